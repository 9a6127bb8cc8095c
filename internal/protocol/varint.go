package protocol

import (
	"errors"
	"io"
)

const (
	segmentBits = 0x7F
	continueBit = 0x80
)

var (
	ErrVarIntTooLong  = errors.New("varint is longer than 5 bytes")
	ErrVarLongTooLong = errors.New("varlong is longer than 10 bytes")
)

// ReadVarInt reads a variable-length encoded int32 from r one byte at a
// time. A truncated stream surfaces the reader's error.
func ReadVarInt(r io.Reader) (int32, error) {
	var value int32
	var position uint
	buf := make([]byte, 1)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		b := buf[0]
		value |= int32(b&segmentBits) << position
		if b&continueBit == 0 {
			return value, nil
		}
		position += 7
		if position >= 32 {
			return 0, ErrVarIntTooLong
		}
	}
}

// WriteVarInt writes value to w in variable-length encoding.
func WriteVarInt(w io.Writer, value int32) error {
	uvalue := uint32(value)
	for {
		temp := byte(uvalue & segmentBits)
		uvalue >>= 7
		if uvalue != 0 {
			temp |= continueBit
		}
		if _, err := w.Write([]byte{temp}); err != nil {
			return err
		}
		if uvalue == 0 {
			return nil
		}
	}
}

// ReadVarLong reads a variable-length encoded int64 from r.
func ReadVarLong(r io.Reader) (int64, error) {
	var value int64
	var position uint
	buf := make([]byte, 1)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		b := buf[0]
		value |= int64(b&segmentBits) << position
		if b&continueBit == 0 {
			return value, nil
		}
		position += 7
		if position >= 64 {
			return 0, ErrVarLongTooLong
		}
	}
}

// WriteVarLong writes value to w in variable-length encoding.
func WriteVarLong(w io.Writer, value int64) error {
	uvalue := uint64(value)
	for {
		temp := byte(uvalue & segmentBits)
		uvalue >>= 7
		if uvalue != 0 {
			temp |= continueBit
		}
		if _, err := w.Write([]byte{temp}); err != nil {
			return err
		}
		if uvalue == 0 {
			return nil
		}
	}
}

// VarIntLen returns the encoded byte length of value without writing it.
func VarIntLen(value int32) int {
	uvalue := uint32(value)
	count := 0
	for {
		count++
		uvalue >>= 7
		if uvalue == 0 {
			return count
		}
	}
}
