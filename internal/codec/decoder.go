// Package codec implements the layered wire codec: length-prefixed framing,
// optional zlib compression, optional AES/CFB8 stream encryption. Decoding
// applies the layers in reverse of encoding. The codec performs no I/O
// beyond the reader/writer supplied by the session.
package codec

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// MaxFrameSize bounds the declared length of a single frame (pre-inflate),
// and the declared uncompressed size of its contents.
const MaxFrameSize = 2 * 1024 * 1024

// Decoder turns the connection's raw byte stream into RawPackets. It is
// owned exclusively by the session's read flow; none of its methods are
// safe for concurrent use.
type Decoder struct {
	src        io.Reader
	rd         io.Reader
	compressed bool
}

func NewDecoder(src io.Reader) *Decoder {
	return &Decoder{src: src, rd: src}
}

// EnableCompression makes the decoder expect the second uncompressed-length
// prefix on every subsequent frame. Once enabled it stays enabled.
func (d *Decoder) EnableCompression() {
	d.compressed = true
}

// EnableEncryption installs the read-direction cipher cursor. Takes effect
// at the next frame boundary and applies to every byte read afterwards.
func (d *Decoder) EnableEncryption(key []byte) error {
	if len(key) != 16 {
		return ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("initializing stream cipher: %w", err)
	}
	d.rd = &cipher.StreamReader{S: newCFB8Decrypter(block, key), R: d.src}
	return nil
}

// ReadPacket decodes the next frame: framing, then (if enabled)
// compression, then splits the varint packet id from the payload. A clean
// EOF before the first length byte is reported as io.EOF; every malformed
// frame is a decode error the session turns into a connection close.
func (d *Decoder) ReadPacket() (*protocol.RawPacket, error) {
	length, err := protocol.ReadVarInt(d.rd)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading frame length: %s", ErrTruncatedFrame, err)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: declared length %d", ErrTruncatedFrame, length)
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d", ErrFrameTooLarge, length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(d.rd, frame); err != nil {
		return nil, fmt.Errorf("%w: reading %d-byte frame: %s", ErrTruncatedFrame, length, err)
	}

	body := frame
	if d.compressed {
		if body, err = d.inflate(frame); err != nil {
			return nil, err
		}
	}

	r := bytes.NewReader(body)
	id, err := protocol.ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading packet id: %s", ErrTruncatedFrame, err)
	}

	payload := make([]byte, r.Len())
	copy(payload, body[len(body)-r.Len():])
	return &protocol.RawPacket{ID: id, Payload: payload}, nil
}

// inflate strips the uncompressed-length prefix and, when it is non-zero,
// inflates the remainder to exactly that length. A zero prefix means the
// body was sent raw despite compression being active.
func (d *Decoder) inflate(frame []byte) ([]byte, error) {
	r := bytes.NewReader(frame)
	dataLen, err := protocol.ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading uncompressed length: %s", ErrTruncatedFrame, err)
	}

	if dataLen == 0 {
		return frame[len(frame)-r.Len():], nil
	}
	if dataLen < 0 || dataLen > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared uncompressed length %d", ErrFrameTooLarge, dataLen)
	}

	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInflateMismatch, err)
	}
	defer zr.Close()

	body := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, body); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInflateMismatch, err)
	}
	// The stream must end exactly at the declared length.
	if n, _ := zr.Read(make([]byte, 1)); n != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after %d", ErrInflateMismatch, dataLen)
	}
	return body, nil
}
