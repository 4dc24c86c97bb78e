package drivers

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Digest reads r to the end and returns its blake2b-256 digest and length
func Digest(r io.Reader) (string, int64, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestObject streams key from d and digests it
func DigestObject(ctx context.Context, d Driver, key string) (string, int64, error) {
	rc, err := d.Get(ctx, key)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = rc.Close() }()

	sum, n, err := Digest(rc)
	if err != nil {
		return "", n, fmt.Errorf("digest %s on %s: %w", key, d.Name(), err)
	}
	return sum, n, nil
}
