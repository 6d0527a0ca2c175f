/*
	This file supports serialization/deserialization and compression of data.
*/

package horta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression is the format of compression for storing data.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = 0
	Snappy       Compression = 1
	Zstd         Compression = 2
	Gzip         Compression = 3
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "No compression"
	case Snappy:
		return "Go Snappy compression"
	case Zstd:
		return "Zstandard compression"
	case Gzip:
		return "gzip compression"
	default:
		return "Unknown compression"
	}
}

// Checksum is the type of checksum employed for error checking stored data.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = 0
	CRC32      Checksum = 1
)

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "No checksum"
	case CRC32:
		return "CRC32 checksum"
	default:
		return "Unknown checksum"
	}
}

// SerializationFormat is a single byte combining both compression and checksum methods.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	a := (uint8(compress) & 0x07) << 5
	b := (uint8(checksum) & 0x03) << 3
	return SerializationFormat(a | b)
}

func DecodeSerializationFormat(s SerializationFormat) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(s) >> 5)
	checksum = Checksum((uint8(s) >> 3) & 0x03)
	return
}

// zstd encoders and decoders are safe for concurrent use through EncodeAll/DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Compress returns data compressed with the given method.
func Compress(data []byte, compress Compression) ([]byte, error) {
	switch compress {
	case Uncompressed:
		return data, nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case Gzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("illegal compression (%s)", compress)
	}
}

// Uncompress reverses Compress.
func Uncompress(cdata []byte, compress Compression) ([]byte, error) {
	switch compress {
	case Uncompressed:
		return cdata, nil
	case Snappy:
		return snappy.Decode(nil, cdata)
	case Zstd:
		return zstdDecoder.DecodeAll(cdata, nil)
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(cdata))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("illegal compression format (%d) in deserialization", compress)
	}
}

// SerializeData serializes a slice of bytes using optional compression, checksum.
func SerializeData(data []byte, compress Compression, checksum Checksum) (s []byte, err error) {
	var buffer bytes.Buffer

	format := EncodeSerializationFormat(compress, checksum)
	buffer.WriteByte(byte(format))

	var byteData []byte
	if byteData, err = Compress(data, compress); err != nil {
		return
	}

	switch checksum {
	case NoChecksum:
	case CRC32:
		crcChecksum := crc32.ChecksumIEEE(byteData)
		err = binary.Write(&buffer, binary.LittleEndian, crcChecksum)
	default:
		err = fmt.Errorf("illegal checksum (%s) in SerializeData()", checksum)
	}
	if err == nil {
		// The actual data is written last, after any checksum, so we don't have to
		// worry about length when deserializing.
		_, err = buffer.Write(byteData)
		if err == nil {
			s = buffer.Bytes()
		}
	}
	return
}

// DeserializeData deserializes a slice of bytes using stored compression, checksum.
// If uncompress parameter is false, the data is not uncompressed.
func DeserializeData(s []byte, uncompress bool) (data []byte, compress Compression, err error) {
	if len(s) == 0 {
		err = fmt.Errorf("cannot deserialize empty data")
		return
	}
	var checksum Checksum
	compress, checksum = DecodeSerializationFormat(SerializationFormat(s[0]))
	cdata := s[1:]

	switch checksum {
	case NoChecksum:
	case CRC32:
		if len(cdata) < 4 {
			err = fmt.Errorf("serialized data too short for checksum")
			return
		}
		storedCrc32 := binary.LittleEndian.Uint32(cdata[0:4])
		cdata = cdata[4:]
		if crcChecksum := crc32.ChecksumIEEE(cdata); crcChecksum != storedCrc32 {
			err = fmt.Errorf("bad checksum: stored %x got %x", storedCrc32, crcChecksum)
			return
		}
	default:
		err = fmt.Errorf("illegal checksum in deserializing data")
		return
	}

	if uncompress {
		data, err = Uncompress(cdata, compress)
	} else {
		data = cdata
	}
	return
}
