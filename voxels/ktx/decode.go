package ktx

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/janelia-flyem/horta/voxels"
)

type decoder struct {
	r     io.Reader
	order binary.ByteOrder
	buf   [4]byte
}

func (d *decoder) readFull(p []byte, what string) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: reading %s", ErrTruncatedStream, what)
		}
		return fmt.Errorf("reading %s: %w", what, err)
	}
	return nil
}

func (d *decoder) uint32(what string) (uint32, error) {
	if err := d.readFull(d.buf[:], what); err != nil {
		return 0, err
	}
	return d.order.Uint32(d.buf[:]), nil
}

// skip reads n padding bytes, which must be zero.
func (d *decoder) skip(n int, what string) error {
	if n == 0 {
		return nil
	}
	if err := d.readFull(d.buf[:n], what); err != nil {
		return err
	}
	if !zeroed(d.buf[:n]) {
		return fmt.Errorf("%w: non-zero %s", ErrCorruptHeader, what)
	}
	return nil
}

func zeroed(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// DecodeHeader reads the fixed header and metadata of a tile, leaving the reader
// positioned at the first mipmap level.
func DecodeHeader(r io.Reader) (*Header, error) {
	d := &decoder{r: r}
	return d.header()
}

func (d *decoder) header() (*Header, error) {
	var ident [12]byte
	if err := d.readFull(ident[:], "identifier"); err != nil {
		return nil, err
	}
	if ident != Identifier {
		return nil, fmt.Errorf("%w: bad identifier % x", ErrCorruptHeader, ident)
	}
	if err := d.readFull(d.buf[:], "endianness"); err != nil {
		return nil, err
	}
	h := new(Header)
	switch {
	case binary.LittleEndian.Uint32(d.buf[:]) == EndiannessMarker:
		d.order, h.Order = binary.LittleEndian, voxels.LittleEndian
	case binary.BigEndian.Uint32(d.buf[:]) == EndiannessMarker:
		d.order, h.Order = binary.BigEndian, voxels.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad endianness marker % x", ErrCorruptHeader, d.buf)
	}

	var fields [12]uint32
	names := [12]string{"glType", "glTypeSize", "glFormat", "glInternalFormat",
		"glBaseInternalFormat", "pixelWidth", "pixelHeight", "pixelDepth",
		"numberOfArrayElements", "numberOfFaces", "numberOfMipmapLevels", "bytesOfKeyValueData"}
	for i := 0; i < 12; i++ {
		v, err := d.uint32(names[i])
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	h.Format = voxels.Format{
		Type:               fields[0],
		TypeSize:           fields[1],
		Format:             fields[2],
		InternalFormat:     fields[3],
		BaseInternalFormat: fields[4],
		ArrayElements:      fields[8],
		Faces:              fields[9],
	}
	h.Width, h.Height, h.Depth = int(fields[5]), int(fields[6]), int(fields[7])
	h.MipmapLevels = int(fields[10])
	if h.Width == 0 || h.Height == 0 || h.Depth == 0 {
		return nil, fmt.Errorf("%w: tile is %d x %d x %d", ErrCorruptHeader, h.Width, h.Height, h.Depth)
	}
	if h.MipmapLevels == 0 || h.MipmapLevels > 32 {
		return nil, fmt.Errorf("%w: %d mipmap levels", ErrCorruptHeader, h.MipmapLevels)
	}
	switch h.Format.TypeSize {
	case 0, 1, 2, 4:
	default:
		return nil, fmt.Errorf("%w: unsupported glTypeSize %d", ErrCorruptHeader, h.Format.TypeSize)
	}

	kvBytes := int(fields[11])
	if kvBytes > maxMetadataBytes {
		return nil, fmt.Errorf("%w: %d bytes of metadata", ErrCorruptHeader, kvBytes)
	}
	kv := make([]byte, kvBytes)
	if err := d.readFull(kv, "key/value data"); err != nil {
		return nil, err
	}
	var err error
	if h.Metadata, err = parseMetadata(kv, d.order); err != nil {
		return nil, err
	}
	return h, nil
}

func parseMetadata(kv []byte, order binary.ByteOrder) ([]voxels.KeyValue, error) {
	var records []voxels.KeyValue
	for pos := 0; pos < len(kv); {
		if len(kv)-pos < 4 {
			return nil, fmt.Errorf("%w: key/value record length at byte %d", ErrTruncatedStream, pos)
		}
		n := int(order.Uint32(kv[pos:]))
		pos += 4
		if n > len(kv)-pos {
			return nil, fmt.Errorf("%w: key/value record of %d bytes at byte %d", ErrTruncatedStream, n, pos)
		}
		record := kv[pos : pos+n]
		sep := bytes.IndexByte(record, 0)
		if sep < 0 {
			return nil, fmt.Errorf("%w: key/value record at byte %d has no key terminator", ErrCorruptHeader, pos)
		}
		value := make([]byte, n-sep-1)
		copy(value, record[sep+1:])
		records = append(records, voxels.KeyValue{Key: string(record[:sep]), Value: value})
		pos += n
		pad := padding(n)
		if pad > len(kv)-pos {
			return nil, fmt.Errorf("%w: padding of key/value record at byte %d", ErrTruncatedStream, pos)
		}
		if !zeroed(kv[pos : pos+pad]) {
			return nil, fmt.Errorf("%w: non-zero padding after key/value record at byte %d", ErrCorruptHeader, pos)
		}
		pos += pad
	}
	return records, nil
}

// Decode reads a complete tile into an immutable block.  The context is checked
// before each mipmap level; if it is done, Decode returns an error wrapping
// ErrInterrupted and no block.
func Decode(ctx context.Context, r io.Reader) (*voxels.Block, error) {
	d := &decoder{r: r}
	h, err := d.header()
	if err != nil {
		return nil, err
	}
	block := &voxels.Block{
		Width:          h.Width,
		Height:         h.Height,
		Depth:          h.Depth,
		Channels:       h.Channels(),
		BytesPerSample: h.BytesPerSample(),
		Order:          h.Order,
		Format:         h.Format,
		Metadata:       h.Metadata,
		Levels:         make([][]byte, h.MipmapLevels),
	}
	for level := 0; level < h.MipmapLevels; level++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w before mipmap level %d: %v", ErrInterrupted, level, ctx.Err())
		default:
		}
		what := fmt.Sprintf("mipmap level %d", level)
		size, err := d.uint32(what + " size")
		if err != nil {
			return nil, err
		}
		n := int(size)
		if n > maxImageBytes {
			return nil, fmt.Errorf("%w: %s declares %d bytes", ErrCorruptHeader, what, n)
		}
		if h.Format.Type != 0 && n != block.LevelSize(level) {
			return nil, fmt.Errorf("%w: %s has %d bytes, expected %d", ErrCorruptHeader, what, n, block.LevelSize(level))
		}
		data := make([]byte, n)
		if err := d.readFull(data, what); err != nil {
			return nil, err
		}
		if err := d.skip(padding(n), what+" padding"); err != nil {
			return nil, err
		}
		block.Levels[level] = data
	}
	return block, nil
}

// DecodeBytes is a convenience wrapper around Decode for an in-memory tile.
func DecodeBytes(ctx context.Context, data []byte) (*voxels.Block, error) {
	return Decode(ctx, bytes.NewReader(data))
}
