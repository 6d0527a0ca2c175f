/*
	This file contains functions useful for testing horta in other packages.
	Due to the way Go handles compilation of *_test.go files, these functions
	cannot be in server_test.go since they would be unavailable to test files
	in external packages.  So these functions are exported and contain the
	"Test" keyword.
*/

package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/storage"
	"github.com/janelia-flyem/horta/voxels"
	"github.com/janelia-flyem/horta/voxels/ktx"
)

// TestHTTPResponse returns a response from a test request to the handler.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, h, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with the given error status code.
func TestBadHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader, status int) {
	resp := TestHTTPResponse(t, h, method, urlStr, payload)
	if resp.Code != status {
		t.Fatalf("Expected status %d for %s on %q, got %d instead.\n", status, method, urlStr, resp.Code)
	}
}

// WriteTestTiles writes a KTX tile for every address of an octree with one 16-bit
// channel, setting each voxel to value(p) where p is its voxel coordinate at the tile's
// depth.
func WriteTestTiles(t *testing.T, dir string, layout octree.Layout, value func(depth int, x, y, z int32) uint32) {
	for depth := 0; depth <= layout.MaxDepth; depth++ {
		n := int32(1) << uint(depth)
		for z := int32(0); z < n; z++ {
			for y := int32(0); y < n; y++ {
				for x := int32(0); x < n; x++ {
					addr := octree.AddressFromIndex([3]int32{x, y, z}, depth)
					key := layout.Key(addr)
					data, err := ktx.EncodeBytes(testTile(layout, key, value))
					if err != nil {
						t.Fatalf("Unable to encode tile %s: %v\n", key, err)
					}
					path := filepath.Join(dir, filepath.FromSlash(storage.TilePath(addr)))
					if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
						t.Fatalf("Can't make tile directory: %v\n", err)
					}
					if err := os.WriteFile(path, data, 0644); err != nil {
						t.Fatalf("Can't write tile %s: %v\n", key, err)
					}
				}
			}
		}
	}
}

func testTile(layout octree.Layout, key octree.TileKey, value func(depth int, x, y, z int32) uint32) *voxels.Block {
	bs := layout.BlockSize
	depth := key.Address.Depth()
	origin := layout.BlockOrigin(key)
	bld := voxels.NewBuilder(int(bs[0]), int(bs[1]), int(bs[2]), 1, 2, voxels.LittleEndian)
	for z := int32(0); z < bs[2]; z++ {
		for y := int32(0); y < bs[1]; y++ {
			for x := int32(0); x < bs[0]; x++ {
				bld.Set(int(x), int(y), int(z), 0, value(depth, origin[0]+x, origin[1]+y, origin[2]+z))
			}
		}
	}
	bld.SetFormat(voxels.Format{
		Type:               ktx.GLUnsignedShort,
		TypeSize:           2,
		Format:             ktx.GLRed,
		InternalFormat:     ktx.GLR16,
		BaseInternalFormat: ktx.GLRed,
		Faces:              1,
	})
	bld.AddMetadata(ktx.KeyTotalLevels, []byte(fmt.Sprintf("%d", layout.MaxDepth+1)))
	return bld.Block()
}
