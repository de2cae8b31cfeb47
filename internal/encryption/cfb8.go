package encryption

import "crypto/cipher"

// cfb8 is cipher feedback mode with 8-bit segments: one block encryption per
// byte, the shift register fed with ciphertext.
type cfb8 struct {
	block   cipher.Block
	reg     []byte
	out     []byte
	decrypt bool
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) cipher.Stream {
	reg := make([]byte, block.BlockSize())
	copy(reg, iv)
	return &cfb8{
		block:   block,
		reg:     reg,
		out:     make([]byte, block.BlockSize()),
		decrypt: decrypt,
	}
}

func (x *cfb8) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("encryption: output smaller than input")
	}
	last := len(x.reg) - 1
	for i, b := range src {
		x.block.Encrypt(x.out, x.reg)
		c := b ^ x.out[0]
		fb := c
		if x.decrypt {
			fb = b
		}
		copy(x.reg, x.reg[1:])
		x.reg[last] = fb
		dst[i] = c
	}
}
