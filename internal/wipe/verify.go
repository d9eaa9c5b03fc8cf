package wipe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"math"
)

// SampleBlocks returns the block indexes read back for the given verification
// settings, in ascending order. Sampled mode reads ceil(fraction*blocks) evenly spaced
// blocks and always includes the first and the last block.
func SampleBlocks(blocks int64, spec VerificationSpec) []int64 {
	if blocks <= 0 {
		return nil
	}
	var n int64
	switch spec.Mode {
	case VerifyFull:
		n = blocks
	case VerifySampled:
		n = int64(math.Ceil(spec.Fraction * float64(blocks)))
	default:
		return nil
	}
	if n > blocks {
		n = blocks
	}
	if n < 2 {
		n = 2
	}
	if blocks == 1 {
		return []int64{0}
	}

	out := make([]int64, n)
	for k := int64(0); k < n; k++ {
		out[k] = k * (blocks - 1) / (n - 1)
	}
	return out
}

// verify reads back the selected blocks, compares each with the final pass
// pattern and digests them in address order. It never writes.
func (r *runner) verify(ctx context.Context) error {
	r.transition(StateVerifying)
	r.emit(ProgressVerifying)

	bs := r.sess.BlockSize
	indexes := SampleBlocks(r.sess.Capacity/int64(bs), r.sess.Policy.Verification)

	got := blockBuffers.get(bs)
	defer blockBuffers.put(got)
	want := blockBuffers.get(bs)
	defer blockBuffers.put(want)

	h := sha256.New()
	for _, b := range indexes {
		if err := ctx.Err(); err != nil {
			return err
		}
		off := b * int64(bs)
		r.cursor = off
		if err := r.retry(ctx, "read", 0, off, func() error {
			return r.dev.ReadBlock(off, got)
		}); err != nil {
			return err
		}
		if err := r.gen.Final(off, want); err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			return &mismatchError{Offset: off}
		}
		h.Write(got)
		r.sess.BlocksVerified++
	}

	r.sess.VerificationDigest = h.Sum(nil)
	r.log.Log("INFO", "verification complete",
		"mode", r.sess.Policy.Verification.String(),
		"blocks", r.sess.BlocksVerified)
	return nil
}
