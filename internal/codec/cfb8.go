package codec

import "crypto/cipher"

// cfb8 is a byte-granular CFB mode over an AES block cipher. The stream
// keeps a rolling feedback register, so every byte ever passed through a
// session's cipher advances the same cursor; out-of-order decryption
// produces garbage rather than silently succeeding. The standard library
// only ships CFB with full-block feedback, which is not compatible with the
// wire contract.
type cfb8 struct {
	block     cipher.Block
	register  []byte
	keyStream []byte
	decrypt   bool
}

func newCFB8Encrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, false)
}

func newCFB8Decrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, true)
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) cipher.Stream {
	register := make([]byte, block.BlockSize())
	copy(register, iv)
	return &cfb8{
		block:     block,
		register:  register,
		keyStream: make([]byte, block.BlockSize()),
		decrypt:   decrypt,
	}
}

func (s *cfb8) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("codec: cfb8 output smaller than input")
	}
	for i := 0; i < len(src); i++ {
		s.block.Encrypt(s.keyStream, s.register)
		in := src[i]
		out := in ^ s.keyStream[0]
		dst[i] = out

		// The feedback register always receives the ciphertext byte.
		copy(s.register, s.register[1:])
		if s.decrypt {
			s.register[len(s.register)-1] = in
		} else {
			s.register[len(s.register)-1] = out
		}
	}
}
