package requests

import (
	"crypto/rand"
	"strings"
)

const (
	trackingPrefix   = "TL-"
	trackingLength   = 8
	trackingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewTrackingCode returns an opaque public code such as TL-7QK2M9XA.
func NewTrackingCode() (string, error) {
	buf := make([]byte, trackingLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(trackingPrefix) + trackingLength)
	b.WriteString(trackingPrefix)
	for _, v := range buf {
		b.WriteByte(trackingAlphabet[int(v)%len(trackingAlphabet)])
	}
	return b.String(), nil
}

// IsTrackingCode reports whether code has the public code shape.
func IsTrackingCode(code string) bool {
	if len(code) != len(trackingPrefix)+trackingLength || !strings.HasPrefix(code, trackingPrefix) {
		return false
	}
	for _, r := range code[len(trackingPrefix):] {
		if !strings.ContainsRune(trackingAlphabet, r) {
			return false
		}
	}
	return true
}
