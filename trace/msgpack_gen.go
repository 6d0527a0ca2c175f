package trace

// NOTE: THIS FILE WAS PRODUCED BY THE
// MSGP CODE GENERATION TOOL (github.com/tinylib/msgp)
// DO NOT EDIT

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/horta/horta"
)

// DecodeMsg implements msgp.Decodable
func (z *SegmentIndex) DecodeMsg(dc *msgp.Reader) (err error) {
	var asz uint32
	asz, err = dc.ReadArrayHeader()
	if err != nil {
		return
	}
	if asz != 2 {
		err = msgp.ArrayError{Wanted: 2, Got: asz}
		return
	}
	z.Anchor1, err = dc.ReadUint64()
	if err != nil {
		return
	}
	z.Anchor2, err = dc.ReadUint64()
	return
}

// EncodeMsg implements msgp.Encodable
func (z SegmentIndex) EncodeMsg(en *msgp.Writer) (err error) {
	err = en.WriteArrayHeader(2)
	if err != nil {
		return
	}
	err = en.WriteUint64(z.Anchor1)
	if err != nil {
		return
	}
	err = en.WriteUint64(z.Anchor2)
	return
}

// MarshalMsg implements msgp.Marshaler
func (z SegmentIndex) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 2)
	o = msgp.AppendUint64(o, z.Anchor1)
	o = msgp.AppendUint64(o, z.Anchor2)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *SegmentIndex) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var asz uint32
	asz, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if asz != 2 {
		err = msgp.ArrayError{Wanted: 2, Got: asz}
		return
	}
	z.Anchor1, bts, err = msgp.ReadUint64Bytes(bts)
	if err != nil {
		return
	}
	z.Anchor2, bts, err = msgp.ReadUint64Bytes(bts)
	if err != nil {
		return
	}
	o = bts
	return
}

func (z SegmentIndex) Msgsize() (s int) {
	s = msgp.ArrayHeaderSize + 2*msgp.Uint64Size
	return
}

// DecodeMsg implements msgp.Decodable
func (z *TracedPathSegment) DecodeMsg(dc *msgp.Reader) (err error) {
	var asz uint32
	asz, err = dc.ReadArrayHeader()
	if err != nil {
		return
	}
	if asz != 4 {
		err = msgp.ArrayError{Wanted: 4, Got: asz}
		return
	}
	err = z.Segment.DecodeMsg(dc)
	if err != nil {
		return
	}
	var psz uint32
	psz, err = dc.ReadArrayHeader()
	if err != nil {
		return
	}
	if cap(z.Path) >= int(psz) {
		z.Path = z.Path[:psz]
	} else {
		z.Path = make([]horta.Point3d, psz)
	}
	for zxvk := range z.Path {
		asz, err = dc.ReadArrayHeader()
		if err != nil {
			return
		}
		if asz != 3 {
			err = msgp.ArrayError{Wanted: 3, Got: asz}
			return
		}
		for zbzg := range z.Path[zxvk] {
			z.Path[zxvk][zbzg], err = dc.ReadInt32()
			if err != nil {
				return
			}
		}
	}
	var isz uint32
	isz, err = dc.ReadArrayHeader()
	if err != nil {
		return
	}
	if cap(z.Intensities) >= int(isz) {
		z.Intensities = z.Intensities[:isz]
	} else {
		z.Intensities = make([]int32, isz)
	}
	for zbai := range z.Intensities {
		z.Intensities[zbai], err = dc.ReadInt32()
		if err != nil {
			return
		}
	}
	z.Cost, err = dc.ReadFloat64()
	return
}

// EncodeMsg implements msgp.Encodable
func (z *TracedPathSegment) EncodeMsg(en *msgp.Writer) (err error) {
	err = en.WriteArrayHeader(4)
	if err != nil {
		return
	}
	err = z.Segment.EncodeMsg(en)
	if err != nil {
		return
	}
	err = en.WriteArrayHeader(uint32(len(z.Path)))
	if err != nil {
		return
	}
	for zxvk := range z.Path {
		err = en.WriteArrayHeader(3)
		if err != nil {
			return
		}
		for zbzg := range z.Path[zxvk] {
			err = en.WriteInt32(z.Path[zxvk][zbzg])
			if err != nil {
				return
			}
		}
	}
	err = en.WriteArrayHeader(uint32(len(z.Intensities)))
	if err != nil {
		return
	}
	for zbai := range z.Intensities {
		err = en.WriteInt32(z.Intensities[zbai])
		if err != nil {
			return
		}
	}
	err = en.WriteFloat64(z.Cost)
	return
}

// MarshalMsg implements msgp.Marshaler
func (z *TracedPathSegment) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 4)
	o, err = z.Segment.MarshalMsg(o)
	if err != nil {
		return
	}
	o = msgp.AppendArrayHeader(o, uint32(len(z.Path)))
	for zxvk := range z.Path {
		o = msgp.AppendArrayHeader(o, 3)
		for zbzg := range z.Path[zxvk] {
			o = msgp.AppendInt32(o, z.Path[zxvk][zbzg])
		}
	}
	o = msgp.AppendArrayHeader(o, uint32(len(z.Intensities)))
	for zbai := range z.Intensities {
		o = msgp.AppendInt32(o, z.Intensities[zbai])
	}
	o = msgp.AppendFloat64(o, z.Cost)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *TracedPathSegment) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var asz uint32
	asz, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if asz != 4 {
		err = msgp.ArrayError{Wanted: 4, Got: asz}
		return
	}
	bts, err = z.Segment.UnmarshalMsg(bts)
	if err != nil {
		return
	}
	var psz uint32
	psz, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if cap(z.Path) >= int(psz) {
		z.Path = z.Path[:psz]
	} else {
		z.Path = make([]horta.Point3d, psz)
	}
	for zxvk := range z.Path {
		asz, bts, err = msgp.ReadArrayHeaderBytes(bts)
		if err != nil {
			return
		}
		if asz != 3 {
			err = msgp.ArrayError{Wanted: 3, Got: asz}
			return
		}
		for zbzg := range z.Path[zxvk] {
			z.Path[zxvk][zbzg], bts, err = msgp.ReadInt32Bytes(bts)
			if err != nil {
				return
			}
		}
	}
	var isz uint32
	isz, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if cap(z.Intensities) >= int(isz) {
		z.Intensities = z.Intensities[:isz]
	} else {
		z.Intensities = make([]int32, isz)
	}
	for zbai := range z.Intensities {
		z.Intensities[zbai], bts, err = msgp.ReadInt32Bytes(bts)
		if err != nil {
			return
		}
	}
	z.Cost, bts, err = msgp.ReadFloat64Bytes(bts)
	if err != nil {
		return
	}
	o = bts
	return
}

func (z *TracedPathSegment) Msgsize() (s int) {
	s = msgp.ArrayHeaderSize + z.Segment.Msgsize() + msgp.ArrayHeaderSize +
		len(z.Path)*(msgp.ArrayHeaderSize+3*msgp.Int32Size) +
		msgp.ArrayHeaderSize + len(z.Intensities)*msgp.Int32Size + msgp.Float64Size
	return
}
