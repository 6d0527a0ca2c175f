package ktx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/janelia-flyem/horta/voxels"
)

type encoder struct {
	w     *bufio.Writer
	order binary.ByteOrder
	buf   [4]byte
}

func (e *encoder) uint32(v uint32) {
	e.order.PutUint32(e.buf[:], v)
	e.w.Write(e.buf[:])
}

func (e *encoder) pad(n int) {
	var zeros [3]byte
	e.w.Write(zeros[:padding(n)])
}

// Encode writes a block as a KTX tile.  Encoding a block produced by Decode
// reproduces the original bytes.
func Encode(w io.Writer, b *voxels.Block) error {
	if b.Width <= 0 || b.Height <= 0 || b.Depth <= 0 {
		return fmt.Errorf("cannot encode block with dimensions %d x %d x %d", b.Width, b.Height, b.Depth)
	}
	if len(b.Levels) == 0 {
		return fmt.Errorf("cannot encode block without mipmap levels")
	}
	e := &encoder{w: bufio.NewWriter(w), order: b.Order.Binary()}
	e.w.Write(Identifier[:])
	e.uint32(EndiannessMarker)

	var kv bytes.Buffer
	for _, rec := range b.Metadata {
		n := len(rec.Key) + 1 + len(rec.Value)
		e.order.PutUint32(e.buf[:], uint32(n))
		kv.Write(e.buf[:])
		kv.WriteString(rec.Key)
		kv.WriteByte(0)
		kv.Write(rec.Value)
		kv.Write(make([]byte, padding(n)))
	}

	f := b.Format
	for _, v := range []uint32{
		f.Type, f.TypeSize, f.Format, f.InternalFormat, f.BaseInternalFormat,
		uint32(b.Width), uint32(b.Height), uint32(b.Depth),
		f.ArrayElements, f.Faces, uint32(len(b.Levels)), uint32(kv.Len()),
	} {
		e.uint32(v)
	}
	e.w.Write(kv.Bytes())

	for _, level := range b.Levels {
		e.uint32(uint32(len(level)))
		e.w.Write(level)
		e.pad(len(level))
	}
	return e.w.Flush()
}

// EncodeBytes returns the encoded tile.
func EncodeBytes(b *voxels.Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
