package horta

import (
	"path/filepath"

	"github.com/dustin/go-humanize"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ByteCount returns a human readable byte count, e.g., "4.2 MB".
func ByteCount(n uint64) string {
	return humanize.Bytes(n)
}

// ConvertToAbsolute returns path unchanged if absolute, or joined to dir if relative.
// URLs with a scheme, e.g., "gs://bucket", are returned unchanged.
func ConvertToAbsolute(path, dir string) (string, error) {
	if path == "" || filepath.IsAbs(path) || hasScheme(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

func hasScheme(path string) bool {
	for i, c := range path {
		switch {
		case c == ':':
			return i > 0 && len(path) > i+2 && path[i+1:i+3] == "//"
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return false
}
