/*
Package ktx reads and writes octree tiles stored as KTX 1.1 textures.

A tile is a 12-byte identifier, a 4-byte endianness marker, twelve uint32 header
fields, a block of key/value metadata records, and one image per mipmap level.  Every
metadata record and image is preceded by its uint32 byte length and followed by zero
padding to a 4-byte boundary.
*/
package ktx

import (
	"errors"

	"github.com/janelia-flyem/horta/voxels"
)

var (
	// ErrCorruptHeader is returned when a stream is not a KTX tile we can read.
	ErrCorruptHeader = errors.New("corrupt KTX header")

	// ErrTruncatedStream is returned when a stream ends before a declared field does.
	ErrTruncatedStream = errors.New("truncated KTX stream")

	// ErrInterrupted is returned when decoding is cancelled between mipmap levels.
	ErrInterrupted = errors.New("KTX decode interrupted")
)

// Identifier is the 12-byte magic that starts every KTX 1.1 file.
var Identifier = [12]byte{0xAB, 'K', 'T', 'X', ' ', '1', '1', 0xBB, '\r', '\n', 0x1A, '\n'}

// EndiannessMarker is written in the byte order of the file.
const EndiannessMarker uint32 = 0x04030201

// OpenGL formats used to determine the number of channels per voxel.
const (
	glRed            = 0x1903
	glRGB            = 0x1907
	glRGBA           = 0x1908
	glLuminance      = 0x1909
	glLuminanceAlpha = 0x190A
	glRG             = 0x8227
	glRGInteger      = 0x8228
	glRedInteger     = 0x8D94
	glRGBInteger     = 0x8D98
	glRGBAInteger    = 0x8D99
)

// Sample types and formats commonly found in tiles.  Exported for building test tiles.
const (
	GLUnsignedByte  = 0x1401
	GLUnsignedShort = 0x1403
	GLRed           = glRed
	GLRG            = glRG
	GLR16           = 0x822A
	GLRG16          = 0x822C
)

// Metadata keys written by the tile generation pipeline.
const (
	KeyTotalLevels = "multiscale_total_levels"
	KeyCorners     = "corner_xyzs"
)

// maxMetadataBytes and maxImageBytes guard allocations on malformed input.
const (
	maxMetadataBytes = 16 * 1024 * 1024
	maxImageBytes    = 1 << 30
)

// Header is the decoded fixed header and metadata of a tile.
type Header struct {
	Order        voxels.ByteOrder
	Format       voxels.Format
	Width        int
	Height       int
	Depth        int
	MipmapLevels int
	Metadata     []voxels.KeyValue
}

// Channels returns the number of channels per voxel implied by the sample format.
func (h *Header) Channels() int {
	switch h.Format.Format {
	case glRG, glRGInteger, glLuminanceAlpha:
		return 2
	case glRGB, glRGBInteger:
		return 3
	case glRGBA, glRGBAInteger:
		return 4
	default:
		return 1
	}
}

// BytesPerSample returns the size of one channel sample.
func (h *Header) BytesPerSample() int {
	if h.Format.TypeSize == 0 {
		return 1
	}
	return int(h.Format.TypeSize)
}

func padding(n int) int {
	return 3 - ((n + 3) % 4)
}
