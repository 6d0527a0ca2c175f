/*
Package maskchan reads the mask and channel file pairs exported per sample fragment.

A mask file describes which voxels of a volume belong to a fragment as runs along
scan rays.  Its companion channel file holds the intensities of exactly those voxels,
one stream per channel, in the order the mask visits them.  All values are little
endian.
*/
package maskchan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/voxels"
)

// ErrFormat is wrapped by all errors describing malformed mask or channel data.
var ErrFormat = errors.New("bad mask/channel data")

// Axis selects the axis along which mask rays run.
type Axis uint8

const (
	AxisX Axis = iota // rays along x, planes ordered yz
	AxisY             // rays along y, planes ordered xz
	AxisZ             // rays along z, planes ordered xy
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "yz(x)"
	case AxisY:
		return "xz(y)"
	case AxisZ:
		return "xy(z)"
	default:
		return fmt.Sprintf("unknown axis %d", a)
	}
}

// MaskHeader is the fixed-size start of a mask file.
type MaskHeader struct {
	SX, SY, SZ                   int64
	XMicrons, YMicrons, ZMicrons float32
	X0, X1, Y0, Y1, Z0, Z1       int64
	TotalVoxels                  int64
	Axis                         Axis
}

// Run is a half-open span [Start, End) of positions along a ray.
type Run struct {
	Start, End int64
}

// Ray holds the runs on one ray, reached by skipping Skip rays past the last one.
type Ray struct {
	Skip int64
	Runs []Run
}

// Mask is a decoded mask file.
type Mask struct {
	MaskHeader
	Rays []Ray
}

// ChannelHeader is the fixed-size start of a channel file.  The recommended display
// channels are stored red, blue, green.
type ChannelHeader struct {
	TotalVoxels      int64
	Count            uint8
	Red, Blue, Green uint8
	BytesPerChannel  uint8
}

// Channels is a decoded channel file with one intensity stream per channel.
type Channels struct {
	ChannelHeader
	Data [][]byte
}

func readErr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: unexpected end of data reading %s", ErrFormat, what)
	}
	return fmt.Errorf("reading %s: %w", what, err)
}

// ReadMask decodes a mask file.  Rays are read until runs totaling TotalVoxels have
// been consumed.
func ReadMask(r io.Reader) (*Mask, error) {
	m := new(Mask)
	if err := binary.Read(r, binary.LittleEndian, &m.MaskHeader); err != nil {
		return nil, readErr(err, "mask header")
	}
	if m.SX <= 0 || m.SY <= 0 || m.SZ <= 0 {
		return nil, fmt.Errorf("%w: mask volume is %d x %d x %d", ErrFormat, m.SX, m.SY, m.SZ)
	}
	if m.Axis > AxisZ {
		return nil, fmt.Errorf("%w: mask axis %d", ErrFormat, m.Axis)
	}
	var consumed int64
	var pair [2]int64
	for consumed < m.TotalVoxels {
		var rayHeader [2]int64
		if err := binary.Read(r, binary.LittleEndian, &rayHeader); err != nil {
			return nil, readErr(err, fmt.Sprintf("ray %d header", len(m.Rays)))
		}
		skip, pairCount := rayHeader[0], rayHeader[1]
		if skip < 0 || pairCount <= 0 || pairCount > m.fastestMax() {
			return nil, fmt.Errorf("%w: ray %d has skip %d and %d runs", ErrFormat, len(m.Rays), skip, pairCount)
		}
		ray := Ray{Skip: skip, Runs: make([]Run, pairCount)}
		var rayVoxels int64
		for i := range ray.Runs {
			if err := binary.Read(r, binary.LittleEndian, &pair); err != nil {
				return nil, readErr(err, fmt.Sprintf("run %d of ray %d", i, len(m.Rays)))
			}
			if pair[0] < 0 || pair[1] < pair[0] || pair[1] > m.fastestMax() {
				return nil, fmt.Errorf("%w: run [%d,%d) of ray %d", ErrFormat, pair[0], pair[1], len(m.Rays))
			}
			ray.Runs[i] = Run{Start: pair[0], End: pair[1]}
			rayVoxels += pair[1] - pair[0]
		}
		if rayVoxels == 0 {
			return nil, fmt.Errorf("%w: ray %d holds no voxels", ErrFormat, len(m.Rays))
		}
		consumed += rayVoxels
		m.Rays = append(m.Rays, ray)
	}
	return m, nil
}

// fastestMax returns the length of a ray.
func (m *Mask) fastestMax() int64 {
	switch m.Axis {
	case AxisX:
		return m.SX
	case AxisY:
		return m.SY
	default:
		return m.SZ
	}
}

func (m *Mask) secondFastestMax() int64 {
	if m.Axis == AxisZ {
		return m.SY
	}
	return m.SZ
}

// rayStart returns the x, y, z coordinate of the first voxel of a ray.
func (m *Mask) rayStart(rayNumber int64) [3]int64 {
	fastest := m.fastestMax()
	offset := rayNumber * fastest
	sliceSize := fastest * m.secondFastestMax()
	line := (offset % sliceSize) / fastest
	slice := offset / sliceSize
	switch m.Axis {
	case AxisX:
		return [3]int64{0, slice, line}
	case AxisY:
		return [3]int64{slice, 0, line}
	default:
		return [3]int64{slice, line, 0}
	}
}

// Walk calls fn for every masked voxel in file order.  The index passed to fn is the
// voxel's position within each channel stream.
func (m *Mask) Walk(fn func(xyz [3]int64, index int64) error) error {
	var rayNumber, index int64
	for _, ray := range m.Rays {
		rayNumber += ray.Skip
		xyz := m.rayStart(rayNumber)
		for _, run := range ray.Runs {
			for pos := run.Start; pos < run.End; pos++ {
				xyz[m.Axis] = pos
				if err := fn(xyz, index); err != nil {
					return err
				}
				index++
			}
		}
		rayNumber++
	}
	return nil
}

// ReadChannels decodes a channel file.
func ReadChannels(r io.Reader) (*Channels, error) {
	ch := new(Channels)
	if err := binary.Read(r, binary.LittleEndian, &ch.ChannelHeader); err != nil {
		return nil, readErr(err, "channel header")
	}
	if ch.TotalVoxels < 0 || ch.Count == 0 {
		return nil, fmt.Errorf("%w: %d voxels in %d channels", ErrFormat, ch.TotalVoxels, ch.Count)
	}
	switch ch.BytesPerChannel {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("%w: %d bytes per channel", ErrFormat, ch.BytesPerChannel)
	}
	n := ch.TotalVoxels * int64(ch.BytesPerChannel)
	ch.Data = make([][]byte, ch.Count)
	for c := range ch.Data {
		ch.Data[c] = make([]byte, n)
		if _, err := io.ReadFull(r, ch.Data[c]); err != nil {
			return nil, readErr(err, fmt.Sprintf("channel %d", c))
		}
	}
	return ch, nil
}

// Sample returns the intensity of a channel for the voxel at the stream index.
func (ch *Channels) Sample(c int, index int64) (uint32, bool) {
	bpc := int64(ch.BytesPerChannel)
	if c < 0 || c >= len(ch.Data) || index < 0 || (index+1)*bpc > int64(len(ch.Data[c])) {
		return 0, false
	}
	b := ch.Data[c][index*bpc:]
	switch bpc {
	case 1:
		return uint32(b[0]), true
	case 2:
		return uint32(binary.LittleEndian.Uint16(b)), true
	default:
		return binary.LittleEndian.Uint32(b), true
	}
}

// Export is a fragment materialized as a dense block positioned in the sample volume.
type Export struct {
	Origin horta.Point3d
	Block  *voxels.Block
}

// Extents returns the voxel box covered by the export.
func (e *Export) Extents() horta.Extents3d {
	size := horta.Point3d{int32(e.Block.Width), int32(e.Block.Height), int32(e.Block.Depth)}
	return horta.Extents3d{MinPoint: e.Origin, MaxPoint: e.Origin.Add(size).AddScalar(-1)}
}

// Materialize fills a dense block covering the mask's bounding box with the channel
// intensities of masked voxels.  Unmasked voxels are zero.
func Materialize(m *Mask, ch *Channels) (*Export, error) {
	if ch.TotalVoxels < m.TotalVoxels {
		return nil, fmt.Errorf("%w: mask covers %d voxels but channels hold %d", ErrFormat, m.TotalVoxels, ch.TotalVoxels)
	}
	lo := [3]int64{m.X0, m.Y0, m.Z0}
	hi := [3]int64{m.X1, m.Y1, m.Z1}
	size := [3]int64{m.SX, m.SY, m.SZ}
	for i := 0; i < 3; i++ {
		if hi[i] < lo[i] || lo[i] < 0 || hi[i] >= size[i] {
			lo[i], hi[i] = 0, size[i]-1
		}
	}
	dims := [3]int64{hi[0] - lo[0] + 1, hi[1] - lo[1] + 1, hi[2] - lo[2] + 1}
	if dims[0]*dims[1]*dims[2]*int64(ch.Count)*int64(ch.BytesPerChannel) > horta.Giga {
		return nil, fmt.Errorf("mask bounding box %v is too large to materialize", dims)
	}
	bld := voxels.NewBuilder(int(dims[0]), int(dims[1]), int(dims[2]), int(ch.Count), int(ch.BytesPerChannel), voxels.LittleEndian)
	err := m.Walk(func(xyz [3]int64, index int64) error {
		for c := 0; c < int(ch.Count); c++ {
			v, ok := ch.Sample(c, index)
			if !ok {
				return fmt.Errorf("%w: no channel %d sample for voxel %d", ErrFormat, c, index)
			}
			bld.Set(int(xyz[0]-lo[0]), int(xyz[1]-lo[1]), int(xyz[2]-lo[2]), c, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Export{
		Origin: horta.Point3d{int32(lo[0]), int32(lo[1]), int32(lo[2])},
		Block:  bld.Block(),
	}, nil
}
