// Package hash implements the password scheme 4.F mandates: the
// stored credential is the SHA-256 hex digest of the clear password,
// compared in constant time.
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sum256Hex returns the lowercase hex SHA-256 digest of passwd, the
// form auth files store under credentials[].password.
func Sum256Hex(passwd string) string {
	sum := sha256.Sum256([]byte(passwd))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether passwd hashes to storedHex, comparing in
// constant time so a timing side-channel can't leak how many
// leading hex digits matched.
func Verify(storedHex, passwd string) bool {
	if len(storedHex) != sha256.Size*2 {
		return false
	}
	got := Sum256Hex(passwd)
	return subtle.ConstantTimeCompare([]byte(storedHex), []byte(got)) == 1
}
