// Package md5 derives stable download names from request addresses.
package md5

import (
	"crypto/md5" //nolint:gosec // used for file naming, not integrity
	"encoding/hex"
)

// Hasher implements crawler.Hasher using MD5 hex digests.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex MD5 of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}
