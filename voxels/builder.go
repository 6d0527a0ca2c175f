package voxels

// Builder constructs a single-level Block from voxel values.  It is used for synthetic
// volumes and for converting legacy exports.
type Builder struct {
	block *Block
}

// NewBuilder allocates a zeroed level 0 for a block of the given shape.
func NewBuilder(width, height, depth, channels, bytesPerSample int, order ByteOrder) *Builder {
	b := &Block{
		Width:          width,
		Height:         height,
		Depth:          depth,
		Channels:       channels,
		BytesPerSample: bytesPerSample,
		Order:          order,
	}
	b.Levels = [][]byte{make([]byte, b.LevelSize(0))}
	return &Builder{block: b}
}

// Set stores a sample for channel c at a block-local voxel.  Out of range voxels are ignored.
func (bld *Builder) Set(x, y, z, c int, value uint32) {
	b := bld.block
	if !b.Contains(x, y, z) || c < 0 || c >= b.Channels {
		return
	}
	i := (z*b.Height+y)*b.RowBytes(0) + (x*b.Channels+c)*b.BytesPerSample
	data := b.Levels[0]
	switch b.BytesPerSample {
	case 1:
		data[i] = byte(value)
	case 2:
		b.Order.Binary().PutUint16(data[i:], uint16(value))
	case 4:
		b.Order.Binary().PutUint32(data[i:], value)
	}
}

// Fill sets every voxel of channel c to value.
func (bld *Builder) Fill(c int, value uint32) {
	b := bld.block
	for z := 0; z < b.Depth; z++ {
		for y := 0; y < b.Height; y++ {
			for x := 0; x < b.Width; x++ {
				bld.Set(x, y, z, c, value)
			}
		}
	}
}

// AddMetadata appends a metadata record.
func (bld *Builder) AddMetadata(key string, value []byte) {
	bld.block.Metadata = append(bld.block.Metadata, KeyValue{Key: key, Value: value})
}

// SetFormat sets the header sample description.
func (bld *Builder) SetFormat(f Format) {
	bld.block.Format = f
}

// AddLevel appends a mipmap level that is already laid out.
func (bld *Builder) AddLevel(data []byte) {
	bld.block.Levels = append(bld.block.Levels, data)
}

// Block returns the built block.  The builder must not be used afterward.
func (bld *Builder) Block() *Block {
	b := bld.block
	bld.block = nil
	return b
}
