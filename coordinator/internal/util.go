package internal

import (
	"crypto/rand"
	"encoding/hex"
)

// We aren't using UUIDs here because they only have 126 bits of entropy,
// and the operation id doubles as the only access credential for a
// ceremony.
func UniqueID() (string, error) {
	b := make([]byte, 24)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewOperationID mints a prefixed unguessable ceremony id.
func NewOperationID(t CeremonyType) (string, error) {
	uid, err := UniqueID()
	if err != nil {
		return "", err
	}
	if t == TypeSigning {
		return "s_" + uid, nil
	}
	return "k_" + uid, nil
}
