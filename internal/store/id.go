package store

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 32-char random hex id for projects, agents, tasks, runs,
// and sessions.
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
