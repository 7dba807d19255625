package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"github.com/corona10/goimagehash"
)

// Fingerprint is a 64-bit difference-hash of a frame. Visually similar
// frames produce fingerprints with a small Hamming distance.
type Fingerprint uint64

// ComputeFingerprint decodes an encoded frame and returns its perceptual
// fingerprint.
func ComputeFingerprint(frame []byte) (Fingerprint, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return 0, fmt.Errorf("decode frame: %w", err)
	}
	return FingerprintImage(img)
}

// FingerprintImage returns the perceptual fingerprint of a decoded image.
func FingerprintImage(img image.Image) (Fingerprint, error) {
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return 0, fmt.Errorf("difference hash: %w", err)
	}
	return Fingerprint(hash.GetHash()), nil
}

// Distance returns the Hamming distance to another fingerprint.
func (f Fingerprint) Distance(other Fingerprint) int {
	return bits.OnesCount64(uint64(f) ^ uint64(other))
}

// WithinThreshold reports whether the two fingerprints are close enough to
// count as near-duplicates under the given distance cutoff.
func (f Fingerprint) WithinThreshold(other Fingerprint, maxDistance int) bool {
	return f.Distance(other) <= maxDistance
}
