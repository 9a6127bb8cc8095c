package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Maximum byte length accepted for a length-prefixed string. Matches the
// client's own cap so oversized strings fail during decode rather than
// ballooning allocations.
const maxStringLen = 32767 * 3

// ReadString reads a varint-length-prefixed UTF-8 string from r.
func ReadString(r io.Reader) (string, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if length < 0 || length > maxStringLen {
		return "", fmt.Errorf("string length %d out of range", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteString writes s to w with a varint length prefix.
func WriteString(w io.Writer, s string) error {
	if err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadUint16 reads a big-endian unsigned short.
func ReadUint16(r io.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(r, binary.BigEndian, &value)
	return value, err
}

// WriteUint16 writes a big-endian unsigned short.
func WriteUint16(w io.Writer, value uint16) error {
	return binary.Write(w, binary.BigEndian, value)
}

// ReadInt64 reads a big-endian signed long.
func ReadInt64(r io.Reader) (int64, error) {
	var value int64
	err := binary.Read(r, binary.BigEndian, &value)
	return value, err
}

// WriteInt64 writes a big-endian signed long.
func WriteInt64(w io.Writer, value int64) error {
	return binary.Write(w, binary.BigEndian, value)
}

// ReadBool reads a single byte boolean.
func ReadBool(r io.Reader) (bool, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// WriteBool writes a single byte boolean.
func WriteBool(w io.Writer, value bool) error {
	b := byte(0)
	if value {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

// ReadUUID reads a UUID as two big-endian unsigned longs.
func ReadUUID(r io.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// WriteUUID writes a UUID as two big-endian unsigned longs.
func WriteUUID(w io.Writer, id uuid.UUID) error {
	_, err := w.Write(id[:])
	return err
}

// ReadByteArray reads a varint-length-prefixed byte array.
func ReadByteArray(r io.Reader) ([]byte, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if length < 0 || length > maxStringLen {
		return nil, fmt.Errorf("byte array length %d out of range", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteByteArray writes b to w with a varint length prefix.
func WriteByteArray(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
