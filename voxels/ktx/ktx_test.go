package ktx

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/janelia-flyem/horta/voxels"
)

func syntheticBlock(order voxels.ByteOrder) *voxels.Block {
	bld := voxels.NewBuilder(4, 4, 4, 2, 2, order)
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				bld.Set(x, y, z, 0, uint32(x+10*y+100*z))
				bld.Set(x, y, z, 1, uint32(60000-x))
			}
		}
	}
	bld.SetFormat(voxels.Format{
		Type:               GLUnsignedShort,
		TypeSize:           2,
		Format:             GLRG,
		InternalFormat:     GLRG16,
		BaseInternalFormat: GLRG,
		Faces:              1,
	})
	bld.AddMetadata(KeyTotalLevels, []byte("3"))
	bld.AddMetadata(KeyCorners, []byte("[(1.5, 2, 3), (4, 5, 6), (10.25, 20, -30.5)]"))
	bld.AddMetadata("empty", nil)
	level1 := make([]byte, 32)
	for i := range level1 {
		level1[i] = byte(i)
	}
	bld.AddLevel(level1)
	bld.AddLevel([]byte{1, 2, 3, 4})
	return bld.Block()
}

func TestRoundTrip(t *testing.T) {
	for _, order := range []voxels.ByteOrder{voxels.LittleEndian, voxels.BigEndian} {
		orig := syntheticBlock(order)
		if err := orig.Validate(); err != nil {
			t.Fatalf("synthetic block invalid: %v\n", err)
		}
		encoded, err := EncodeBytes(orig)
		if err != nil {
			t.Fatalf("error encoding: %v\n", err)
		}
		if len(encoded)%4 != 0 {
			t.Errorf("encoded tile of %d bytes is not 4-byte aligned\n", len(encoded))
		}
		decoded, err := DecodeBytes(context.Background(), encoded)
		if err != nil {
			t.Fatalf("error decoding %s tile: %v\n", order, err)
		}
		if decoded.Width != 4 || decoded.Height != 4 || decoded.Depth != 4 {
			t.Errorf("bad dimensions %d x %d x %d\n", decoded.Width, decoded.Height, decoded.Depth)
		}
		if decoded.Channels != 2 || decoded.BytesPerSample != 2 || decoded.Order != order {
			t.Errorf("bad sample layout: %d channels, %d bytes, %s\n", decoded.Channels, decoded.BytesPerSample, decoded.Order)
		}
		if decoded.Format != orig.Format {
			t.Errorf("expected format %v, got %v\n", orig.Format, decoded.Format)
		}
		if !reflect.DeepEqual(decoded.Levels, orig.Levels) {
			t.Errorf("voxel data differs after round trip\n")
		}
		if len(decoded.Metadata) != 3 || decoded.Metadata[1].Key != KeyCorners {
			t.Errorf("bad metadata after round trip: %v\n", decoded.Metadata)
		}
		if v := decoded.Intensity(3, 2, 1, 0); v != 123 {
			t.Errorf("expected intensity 123, got %d\n", v)
		}
		if v := decoded.Intensity(3, 2, 1, 1); v != 59997 {
			t.Errorf("expected intensity 59997, got %d\n", v)
		}

		reencoded, err := EncodeBytes(decoded)
		if err != nil {
			t.Fatalf("error re-encoding: %v\n", err)
		}
		if !bytes.Equal(encoded, reencoded) {
			t.Errorf("re-encoded %s tile is not byte-identical\n", order)
		}
	}
}

func TestEndiannessMarker(t *testing.T) {
	le, _ := EncodeBytes(syntheticBlock(voxels.LittleEndian))
	if !bytes.Equal(le[12:16], []byte{1, 2, 3, 4}) {
		t.Errorf("bad little endian marker % x\n", le[12:16])
	}
	be, _ := EncodeBytes(syntheticBlock(voxels.BigEndian))
	if !bytes.Equal(be[12:16], []byte{4, 3, 2, 1}) {
		t.Errorf("bad big endian marker % x\n", be[12:16])
	}
}

func TestCorruptHeader(t *testing.T) {
	good, _ := EncodeBytes(syntheticBlock(voxels.LittleEndian))

	badMagic := append([]byte{}, good...)
	badMagic[1] = 'Q'
	if _, err := DecodeBytes(context.Background(), badMagic); !errors.Is(err, ErrCorruptHeader) {
		t.Errorf("expected corrupt header for bad magic, got %v\n", err)
	}

	badMarker := append([]byte{}, good...)
	badMarker[12], badMarker[13] = 2, 1
	if _, err := DecodeBytes(context.Background(), badMarker); !errors.Is(err, ErrCorruptHeader) {
		t.Errorf("expected corrupt header for bad endianness, got %v\n", err)
	}
}

func TestTruncatedStream(t *testing.T) {
	good, _ := EncodeBytes(syntheticBlock(voxels.BigEndian))
	for _, n := range []int{0, 5, 14, 40, 70, len(good) - 300, len(good) - 1} {
		_, err := DecodeBytes(context.Background(), good[:n])
		if !errors.Is(err, ErrTruncatedStream) {
			t.Errorf("expected truncated stream decoding %d of %d bytes, got %v\n", n, len(good), err)
		}
	}
}

func TestInterrupted(t *testing.T) {
	good, _ := EncodeBytes(syntheticBlock(voxels.LittleEndian))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block, err := DecodeBytes(ctx, good)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected interrupted decode, got %v\n", err)
	}
	if block != nil {
		t.Errorf("expected no partial block on interruption\n")
	}
}

func TestDecodeHeader(t *testing.T) {
	good, _ := EncodeBytes(syntheticBlock(voxels.LittleEndian))
	h, err := DecodeHeader(bytes.NewReader(good))
	if err != nil {
		t.Fatalf("error decoding header: %v\n", err)
	}
	if h.MipmapLevels != 3 || h.Channels() != 2 || h.BytesPerSample() != 2 {
		t.Errorf("bad header %+v\n", h)
	}
	levels, err := TotalLevels(h.Metadata)
	if err != nil || levels != 3 {
		t.Errorf("expected 3 total levels, got %d (%v)\n", levels, err)
	}
	origin, outer, err := Corners(h.Metadata)
	if err != nil {
		t.Fatalf("error parsing corners: %v\n", err)
	}
	if origin != [3]float64{1.5, 2, 3} || outer != [3]float64{10.25, 20, -30.5} {
		t.Errorf("bad corners %v, %v\n", origin, outer)
	}
	if _, err := TotalLevels(nil); err == nil {
		t.Errorf("expected error for missing levels metadata\n")
	}
}

func tinyTile(t *testing.T) []byte {
	bld := voxels.NewBuilder(1, 1, 1, 1, 1, voxels.LittleEndian)
	bld.Set(0, 0, 0, 0, 9)
	bld.SetFormat(voxels.Format{Type: GLUnsignedByte, TypeSize: 1, Format: GLRed, Faces: 1})
	bld.AddMetadata("k", []byte("v")) // 7 byte record, 1 byte of padding
	data, err := EncodeBytes(bld.Block())
	if err != nil {
		t.Fatalf("error encoding tile: %v\n", err)
	}
	return data
}

func TestPaddingMustRoundTrip(t *testing.T) {
	const kvStart = 64
	good := tinyTile(t)
	if _, err := DecodeBytes(context.Background(), good); err != nil {
		t.Fatalf("error decoding good tile: %v\n", err)
	}

	// Key/value block whose declared length leaves out the last record's padding.
	short := append([]byte{}, good[:kvStart+7]...)
	short = append(short, good[kvStart+8:]...)
	binary.LittleEndian.PutUint32(short[60:], 7)
	if _, err := DecodeBytes(context.Background(), short); !errors.Is(err, ErrTruncatedStream) {
		t.Errorf("expected truncated stream for unpadded key/value data, got %v\n", err)
	}

	kvPad := append([]byte{}, good...)
	kvPad[kvStart+7] = 0xFF
	if _, err := DecodeBytes(context.Background(), kvPad); !errors.Is(err, ErrCorruptHeader) {
		t.Errorf("expected corrupt header for non-zero key/value padding, got %v\n", err)
	}

	levelPad := append([]byte{}, good...)
	levelPad[len(levelPad)-1] = 1
	if _, err := DecodeBytes(context.Background(), levelPad); !errors.Is(err, ErrCorruptHeader) {
		t.Errorf("expected corrupt header for non-zero level padding, got %v\n", err)
	}
}
