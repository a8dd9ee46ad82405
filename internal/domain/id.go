package domain

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"time"
)

var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// NewID returns a 24-hex-character identifier: a big-endian unix timestamp
// followed by 8 random bytes. Collision resistance comes from the random
// tail, the timestamp keeps ids roughly sortable by creation time.
func NewID() string {
	var raw [12]byte
	binary.BigEndian.PutUint32(raw[:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(raw[4:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(raw[:])
}

// ValidID reports whether s has the store's identifier shape.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}
