package codec

import "errors"

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxFrameSize in either direction.
	ErrFrameTooLarge = errors.New("frame length exceeds maximum allowed")
	// ErrTruncatedFrame is returned when a frame's declared length is not
	// backed by enough bytes, or a length prefix is malformed.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrInflateMismatch is returned when a compressed frame does not
	// inflate to exactly its declared uncompressed length.
	ErrInflateMismatch = errors.New("inflated data does not match declared length")
	// ErrInvalidKeySize is returned when an encryption key is not the
	// 16 bytes the wire contract requires.
	ErrInvalidKeySize = errors.New("encryption key must be 16 bytes")
)
