package ktx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/janelia-flyem/horta/voxels"
)

func metadataString(md []voxels.KeyValue, key string) (string, bool) {
	for _, kv := range md {
		if kv.Key == key {
			return strings.Trim(string(kv.Value), " \t\r\n\x00"), true
		}
	}
	return "", false
}

// TotalLevels returns the number of octree levels recorded in a root tile's metadata.
// The deepest octree depth is one less than this.
func TotalLevels(md []voxels.KeyValue) (int, error) {
	s, found := metadataString(md, KeyTotalLevels)
	if !found {
		return 0, fmt.Errorf("no %q metadata in tile", KeyTotalLevels)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad %q metadata %q: %v", KeyTotalLevels, s, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("bad %q metadata: %d levels", KeyTotalLevels, n)
	}
	return n, nil
}

const numberPattern = `[-+]?[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?`

var cornersRegexp = regexp.MustCompile(`(?s)^\[\s*\((` + numberPattern + `),\s*(` + numberPattern + `),\s*(` +
	numberPattern + `)\).*\((` + numberPattern + `),\s*(` + numberPattern + `),\s*(` + numberPattern + `)\)\s*\]$`)

// Corners returns the first and last corner locations, in microns, listed in a root
// tile's metadata.  These are the origin and the outer corner of the whole volume.
func Corners(md []voxels.KeyValue) (origin, outer [3]float64, err error) {
	s, found := metadataString(md, KeyCorners)
	if !found {
		err = fmt.Errorf("no %q metadata in tile", KeyCorners)
		return
	}
	m := cornersRegexp.FindStringSubmatch(s)
	if m == nil {
		err = fmt.Errorf("cannot extract corners from %q", s)
		return
	}
	for i := 0; i < 3; i++ {
		if origin[i], err = strconv.ParseFloat(m[1+i], 64); err != nil {
			return
		}
		if outer[i], err = strconv.ParseFloat(m[4+i], 64); err != nil {
			return
		}
	}
	return
}
