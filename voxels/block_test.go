package voxels

import "testing"

func TestLevelSize(t *testing.T) {
	b := &Block{Width: 5, Height: 3, Depth: 2, Channels: 1, BytesPerSample: 1}
	// 5 byte rows are padded to 8
	if b.RowBytes(0) != 8 || b.LevelSize(0) != 48 {
		t.Errorf("bad level 0 layout: row %d, size %d\n", b.RowBytes(0), b.LevelSize(0))
	}
	if w, h, d := b.LevelDims(2); w != 1 || h != 1 || d != 1 {
		t.Errorf("expected 1x1x1 at level 2, got %dx%dx%d\n", w, h, d)
	}
	b = &Block{Width: 64, Height: 64, Depth: 64, Channels: 2, BytesPerSample: 2}
	if b.LevelSize(0) != 64*64*64*4 || b.LevelSize(1) != 32*32*32*4 {
		t.Errorf("bad level sizes %d, %d\n", b.LevelSize(0), b.LevelSize(1))
	}
}

func TestIntensity(t *testing.T) {
	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		bld := NewBuilder(3, 4, 5, 2, 2, order)
		bld.Set(2, 3, 4, 1, 4000)
		bld.Set(0, 0, 0, 0, 7)
		bld.Set(9, 0, 0, 0, 7)
		b := bld.Block()
		if err := b.Validate(); err != nil {
			t.Fatalf("built block invalid: %v\n", err)
		}
		if v := b.Intensity(2, 3, 4, 1); v != 4000 {
			t.Errorf("%s: expected 4000, got %d\n", order, v)
		}
		if v := b.Intensity(2, 3, 4, 0); v != 0 {
			t.Errorf("%s: expected 0 in other channel, got %d\n", order, v)
		}
		if v := b.Intensity(0, 0, 0, 0); v != 7 {
			t.Errorf("%s: expected 7, got %d\n", order, v)
		}
		if v := b.Intensity(3, 0, 0, 0); v != NoData {
			t.Errorf("%s: expected NoData outside block, got %d\n", order, v)
		}
		if v := b.Intensity(0, 0, 0, 2); v != NoData {
			t.Errorf("%s: expected NoData for bad channel, got %d\n", order, v)
		}
	}
}

func TestWideSamplesClamped(t *testing.T) {
	bld := NewBuilder(3, 1, 1, 1, 4, BigEndian)
	bld.Set(0, 0, 0, 0, 0xFFFFFFFF)
	bld.Set(1, 0, 0, 0, 1<<31)
	bld.Set(2, 0, 0, 0, 1<<31-1)
	b := bld.Block()
	for x := 0; x < 3; x++ {
		if v := b.Intensity(x, 0, 0, 0); v != MaxIntensity {
			t.Errorf("voxel %d: expected %d, got %d\n", x, MaxIntensity, v)
		}
	}
}

func TestValidate(t *testing.T) {
	bld := NewBuilder(4, 4, 4, 1, 1, LittleEndian)
	bld.AddLevel(make([]byte, 7))
	if err := bld.Block().Validate(); err == nil {
		t.Errorf("expected error for short mipmap level\n")
	}
	b := &Block{Width: 4, Height: 4, Depth: 4, Channels: 1, BytesPerSample: 3}
	if err := b.Validate(); err == nil {
		t.Errorf("expected error for 3 byte samples\n")
	}
}
