package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 4096
	pbkdf2KeyLen     = 32
)

// hashCredential derives a deterministic salted digest; the salt is
// stored next to the hash on the User record.
func hashCredential(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(key)
}

func verifyCredential(password, salt, credentialHash string) bool {
	derived := hashCredential(password, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(credentialHash)) == 1
}

func newSalt() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
