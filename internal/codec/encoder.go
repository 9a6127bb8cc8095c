package codec

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// Encoder turns frame bodies (varint packet id + payload) into wire frames.
// It is owned exclusively by the session's write flow; none of its methods
// are safe for concurrent use. Mode switches take effect on the next frame,
// so the packet announcing a new mode is itself sent under the old one.
type Encoder struct {
	dst        io.Writer
	w          io.Writer
	compressed bool
	threshold  int
	level      int
}

func NewEncoder(dst io.Writer) *Encoder {
	return &Encoder{dst: dst, w: dst}
}

// EnableCompression switches subsequent frames to the compressed format.
// Bodies shorter than threshold are still sent raw behind a zero marker.
func (e *Encoder) EnableCompression(threshold, level int) {
	e.compressed = true
	e.threshold = threshold
	e.level = level
}

// EnableEncryption installs the write-direction cipher cursor. Every byte
// written afterwards passes through the same persistent stream state.
func (e *Encoder) EnableEncryption(key []byte) error {
	if len(key) != 16 {
		return ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("initializing stream cipher: %w", err)
	}
	e.w = &cipher.StreamWriter{S: newCFB8Encrypter(block, key), W: e.dst}
	return nil
}

// WritePacket frames body and writes it out through the active layers.
func (e *Encoder) WritePacket(body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty frame body", ErrTruncatedFrame)
	}

	var frame bytes.Buffer
	if e.compressed {
		if err := e.writeCompressed(&frame, body); err != nil {
			return err
		}
	} else {
		if int32(len(body)) > MaxFrameSize {
			return fmt.Errorf("%w: body length %d", ErrFrameTooLarge, len(body))
		}
		if err := protocol.WriteVarInt(&frame, int32(len(body))); err != nil {
			return err
		}
		if _, err := frame.Write(body); err != nil {
			return err
		}
	}

	if _, err := e.w.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (e *Encoder) writeCompressed(frame *bytes.Buffer, body []byte) error {
	var data bytes.Buffer
	if len(body) < e.threshold {
		// Below-threshold bodies skip the deflate cost: zero marker, raw body.
		if err := protocol.WriteVarInt(&data, 0); err != nil {
			return err
		}
		if _, err := data.Write(body); err != nil {
			return err
		}
	} else {
		if int32(len(body)) > MaxFrameSize {
			return fmt.Errorf("%w: body length %d", ErrFrameTooLarge, len(body))
		}
		if err := protocol.WriteVarInt(&data, int32(len(body))); err != nil {
			return err
		}
		zw, err := zlib.NewWriterLevel(&data, e.level)
		if err != nil {
			return fmt.Errorf("initializing deflate: %w", err)
		}
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("deflating body: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("deflating body: %w", err)
		}
	}

	if err := protocol.WriteVarInt(frame, int32(data.Len())); err != nil {
		return err
	}
	_, err := frame.Write(data.Bytes())
	return err
}
