/*
Package voxels holds decoded voxel blocks.  A Block is immutable once constructed and
may be shared between goroutines without locking.
*/
package voxels

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NoData is the intensity returned for voxels that no resident block covers.
const NoData int32 = -1

// MaxIntensity is the largest intensity returned.  Unsigned 32-bit samples above it are
// clamped so every real sample stays non-negative and distinct from NoData.
const MaxIntensity int32 = math.MaxInt32

// RowAlignment is the byte alignment of each row of samples within a level.
const RowAlignment = 4

// ByteOrder is the byte order of multi-byte samples and of the encoded header.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// Binary returns the encoding/binary equivalent.
func (o ByteOrder) Binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big endian"
	}
	return "little endian"
}

// Format holds the sample description carried in a tile header.  The fields are kept
// so that a decoded block can be re-encoded without loss.
type Format struct {
	Type               uint32 // sample type, e.g., GL_UNSIGNED_SHORT
	TypeSize           uint32 // bytes per sample component
	Format             uint32 // sample format, e.g., GL_RG
	InternalFormat     uint32
	BaseInternalFormat uint32
	ArrayElements      uint32
	Faces              uint32
}

// KeyValue is one metadata record.  Value holds the raw bytes after the key's NUL.
type KeyValue struct {
	Key   string
	Value []byte
}

// Block is an immutable decoded grid of voxels with its mipmap chain.  Each level is a
// contiguous array ordered by z, then y, then x, with channels interleaved per voxel.
type Block struct {
	Width, Height, Depth int
	Channels             int
	BytesPerSample       int
	Order                ByteOrder
	Format               Format
	Metadata             []KeyValue
	Levels               [][]byte
}

// LevelDims returns the voxel dimensions of a mipmap level.
func (b *Block) LevelDims(level int) (w, h, d int) {
	w, h, d = b.Width>>uint(level), b.Height>>uint(level), b.Depth>>uint(level)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if d < 1 {
		d = 1
	}
	return
}

// RowBytes returns the aligned byte length of one row of a level.
func (b *Block) RowBytes(level int) int {
	w, _, _ := b.LevelDims(level)
	n := w * b.Channels * b.BytesPerSample
	if rem := n % RowAlignment; rem != 0 {
		n += RowAlignment - rem
	}
	return n
}

// LevelSize returns the expected byte length of a mipmap level.
func (b *Block) LevelSize(level int) int {
	_, h, d := b.LevelDims(level)
	return b.RowBytes(level) * h * d
}

// NumBytes returns the total size of all levels.
func (b *Block) NumBytes() uint64 {
	var n uint64
	for _, lvl := range b.Levels {
		n += uint64(len(lvl))
	}
	return n
}

// Validate checks that every level holds exactly the bytes its dimensions require.
func (b *Block) Validate() error {
	if b.Width <= 0 || b.Height <= 0 || b.Depth <= 0 {
		return fmt.Errorf("block has bad dimensions %d x %d x %d", b.Width, b.Height, b.Depth)
	}
	if b.Channels <= 0 {
		return fmt.Errorf("block has %d channels", b.Channels)
	}
	switch b.BytesPerSample {
	case 1, 2, 4:
	default:
		return fmt.Errorf("block has unsupported %d bytes per sample", b.BytesPerSample)
	}
	for i, lvl := range b.Levels {
		if len(lvl) != b.LevelSize(i) {
			return fmt.Errorf("mipmap level %d has %d bytes, expected %d", i, len(lvl), b.LevelSize(i))
		}
	}
	return nil
}

// Contains returns true if the block-local voxel is within the full resolution level.
func (b *Block) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < b.Width && y < b.Height && z < b.Depth
}

// Intensity returns the sample for channel c at a block-local voxel of level 0, or
// NoData if the voxel or channel is outside the block.
func (b *Block) Intensity(x, y, z, c int) int32 {
	return b.LevelIntensity(0, x, y, z, c)
}

// LevelIntensity is like Intensity for an arbitrary mipmap level.
func (b *Block) LevelIntensity(level, x, y, z, c int) int32 {
	if level < 0 || level >= len(b.Levels) || c < 0 || c >= b.Channels {
		return NoData
	}
	w, h, d := b.LevelDims(level)
	if x < 0 || y < 0 || z < 0 || x >= w || y >= h || z >= d {
		return NoData
	}
	rowBytes := b.RowBytes(level)
	i := (z*h+y)*rowBytes + (x*b.Channels+c)*b.BytesPerSample
	data := b.Levels[level]
	if i+b.BytesPerSample > len(data) {
		return NoData
	}
	switch b.BytesPerSample {
	case 1:
		return int32(data[i])
	case 2:
		return int32(b.Order.Binary().Uint16(data[i:]))
	case 4:
		v := b.Order.Binary().Uint32(data[i:])
		if v > uint32(MaxIntensity) {
			return MaxIntensity
		}
		return int32(v)
	}
	return NoData
}

// MetadataValue returns the value for the first record with the key.
func (b *Block) MetadataValue(key string) ([]byte, bool) {
	for _, kv := range b.Metadata {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}
