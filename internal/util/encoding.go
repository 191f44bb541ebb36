package util

import (
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD normalization so that visually identical Unicode
// inputs canonicalize to the same byte sequence.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}
