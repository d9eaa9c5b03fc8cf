package wipe

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// Generator produces the expected content of any block of any pass. Output
// depends only on (seed, pass index, block offset), so a replay of the same
// policy writes byte-identical data.
type Generator struct {
	policy    Policy
	blockSize int
	keys      [][]byte // per pass, nil for non-random passes
}

func NewGenerator(policy Policy, blockSize int) (*Generator, error) {
	g := &Generator{policy: policy, blockSize: blockSize, keys: make([][]byte, len(policy.Passes))}
	for i, pass := range policy.Passes {
		if pass.Pattern != PatternRandom {
			continue
		}
		key, err := passKey(policy.PassSeed(i), i)
		if err != nil {
			return nil, err
		}
		g.keys[i] = key
	}
	return g, nil
}

// passKey derives the ChaCha20 key of pass i with HKDF-SHA256.
func passKey(seed uint64, pass int) ([]byte, error) {
	var ikm [8]byte
	binary.BigEndian.PutUint64(ikm[:], seed)
	info := []byte(fmt.Sprintf("wipecert/pass/%d", pass))

	key := make([]byte, chacha20.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm[:], nil, info), key); err != nil {
		return nil, fmt.Errorf("derive pass key: %w", err)
	}
	return key, nil
}

// Fill writes the block at offset for pass (0-based) into dst, which must
// be exactly one block long.
func (g *Generator) Fill(pass int, offset int64, dst []byte) error {
	if pass < 0 || pass >= len(g.policy.Passes) {
		return fmt.Errorf("pass %d out of range", pass)
	}
	switch g.policy.Passes[pass].Pattern {
	case PatternZero:
		fillByte(dst, 0x00)
	case PatternOne:
		fillByte(dst, 0xFF)
	case PatternRandom:
		var nonce [chacha20.NonceSize]byte
		binary.BigEndian.PutUint64(nonce[4:], uint64(offset/int64(g.blockSize)))
		c, err := chacha20.NewUnauthenticatedCipher(g.keys[pass], nonce[:])
		if err != nil {
			return fmt.Errorf("keystream: %w", err)
		}
		fillByte(dst, 0x00)
		c.XORKeyStream(dst, dst)
	case PatternComplement:
		if pass == 0 {
			return fmt.Errorf("complement on first pass")
		}
		if err := g.Fill(pass-1, offset, dst); err != nil {
			return err
		}
		for i := range dst {
			dst[i] = ^dst[i]
		}
	default:
		return fmt.Errorf("unknown pattern %q", g.policy.Passes[pass].Pattern)
	}
	return nil
}

// Final fills dst with the expected on-disk content after the last pass.
func (g *Generator) Final(offset int64, dst []byte) error {
	return g.Fill(len(g.policy.Passes)-1, offset, dst)
}

// constant reports whether pass content is the same for every block, so a
// single buffer can be written across the pass.
func (g *Generator) constant(pass int) bool {
	for ; pass >= 0; pass-- {
		switch g.policy.Passes[pass].Pattern {
		case PatternZero, PatternOne:
			return true
		case PatternRandom:
			return false
		}
	}
	return false
}

func fillByte(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}
