// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blob contains the content addressing primitives: a blob is an
// immutable byte payload identified by the Keccak256 hash of its content.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashSize is the size of a blob hash in bytes.
const HashSize = 32

// NewHasher returns the hash function used for blob ids.
var NewHasher = sha3.NewLegacyKeccak256

var (
	ErrInvalidID    = errors.New("invalid blob id")
	ErrHashMismatch = errors.New("blob content does not match its id")
)

// ID is the hex encoded content hash of a blob.
type ID string

// ZeroID is the id that has no value.
const ZeroID ID = ""

// Hash returns the ID of the given content.
func Hash(data []byte) ID {
	h := NewHasher()
	_, _ = h.Write(data)
	return FromHash(h)
}

// FromHash returns the ID of everything written to h so far.
func FromHash(h hash.Hash) ID {
	return ID(hex.EncodeToString(h.Sum(nil)))
}

// ParseID validates the hex encoded id s.
func ParseID(s string) (ID, error) {
	s = strings.ToLower(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if len(b) != HashSize {
		return ZeroID, fmt.Errorf("%w: length %d", ErrInvalidID, len(b))
	}
	return ID(s), nil
}

// MustParseID is like ParseID but panics on invalid input.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Verify checks that the content written to h hashes to id.
func Verify(id ID, h hash.Hash) error {
	if got := FromHash(h); got != id {
		return fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, got, id)
	}
	return nil
}

// IsZero returns true if the ID is not set to any value.
func (id ID) IsZero() bool {
	return id == ZeroID
}

func (id ID) String() string {
	return string(id)
}

// Short returns an abbreviated form of the id for log lines.
func (id ID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}
