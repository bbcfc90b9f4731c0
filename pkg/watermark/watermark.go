// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package watermark defines the resumption cursor of a replicator and the
// store that persists it between runs.
//
// A Watermark is ordered only within its generation. The log tailing
// protocol uses Bucket as the time bucket token and Sequence as the event
// id within the bucket, the legacy offset protocol uses Sequence as the
// offset and leaves Bucket at zero.
package watermark

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrIncomparable is returned when comparing watermarks of different
	// generations.
	ErrIncomparable = errors.New("watermarks of different generations")
	// ErrInvalid is returned when a watermark string can not be parsed.
	ErrInvalid = errors.New("invalid watermark")
)

// Watermark marks how far a replicator has progressed.
type Watermark struct {
	Generation string `json:"generation,omitempty"`
	Bucket     int64  `json:"bucket"`
	Sequence   uint64 `json:"sequence"`
}

// Zero is the watermark of a replicator that never ran.
var Zero = Watermark{}

// IsZero returns true if the watermark has no value.
func (w Watermark) IsZero() bool {
	return w == Zero
}

// Compare returns -1, 0 or 1 when a is before, equal to or after b. The zero
// watermark is before every other one. ErrIncomparable is returned when both
// watermarks are set and their generations differ.
func Compare(a, b Watermark) (int, error) {
	switch {
	case a == b:
		return 0, nil
	case a.IsZero():
		return -1, nil
	case b.IsZero():
		return 1, nil
	case a.Generation != b.Generation:
		return 0, fmt.Errorf("%w: %q and %q", ErrIncomparable, a.Generation, b.Generation)
	}
	return compareCursor(a, b), nil
}

// Less orders all watermarks, generations first. It is used where a total
// order is needed regardless of generation, such as the in-flight ledger.
func Less(a, b Watermark) bool {
	if a.Generation != b.Generation {
		return a.Generation < b.Generation
	}
	return compareCursor(a, b) < 0
}

func compareCursor(a, b Watermark) int {
	switch {
	case a.Bucket < b.Bucket:
		return -1
	case a.Bucket > b.Bucket:
		return 1
	case a.Sequence < b.Sequence:
		return -1
	case a.Sequence > b.Sequence:
		return 1
	}
	return 0
}

// String returns the "generation/bucket.sequence" form of the watermark and
// the empty string for the zero watermark.
func (w Watermark) String() string {
	if w.IsZero() {
		return ""
	}
	return w.Generation + "/" + strconv.FormatInt(w.Bucket, 10) + "." + strconv.FormatUint(w.Sequence, 10)
}

// Parse is the inverse of String. The generation may itself contain slashes.
func Parse(s string) (Watermark, error) {
	if s == "" {
		return Zero, nil
	}
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return Zero, fmt.Errorf("%w: %q: missing generation separator", ErrInvalid, s)
	}
	gen, cursor := s[:i], s[i+1:]
	bucket, seq, ok := strings.Cut(cursor, ".")
	if !ok {
		return Zero, fmt.Errorf("%w: %q: missing sequence separator", ErrInvalid, s)
	}
	b, err := strconv.ParseInt(bucket, 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q: bucket: %v", ErrInvalid, s, err)
	}
	q, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q: sequence: %v", ErrInvalid, s, err)
	}
	return Watermark{Generation: gen, Bucket: b, Sequence: q}, nil
}

// Offset returns a legacy protocol watermark.
func Offset(generation string, offset uint64) Watermark {
	return Watermark{Generation: generation, Sequence: offset}
}
