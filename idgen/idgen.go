// CLAUDE:SUMMARY Pluggable ID generators: UUIDv7 default, prefixed variants for temp files and outbound events.
// Package idgen provides pluggable ID generation for heapview.
//
// Components that mint identifiers (tempstore, session events) accept a
// Generator so tests can swap in a deterministic sequence.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so temp file rows come back in creation order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator yielding prefix1, prefix2, ... in order.
// Safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string {
		return prefix + strconv.FormatUint(n.Add(1), 10)
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// TempFile mints identifiers for heap snapshot temp files.
var TempFile Generator = Prefixed("tmp_", Default)

// Event mints identifiers for outbound session events.
var Event Generator = Prefixed("evt_", Default)

// Request mints identifiers for MCP and HTTP calls.
var Request Generator = Prefixed("req_", Default)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string, with or without a prefix of the form
// "xxx_", and returns it or an error.
func Parse(s string) (string, error) {
	raw := s
	for i := 0; i < len(s) && i < 8; i++ {
		if s[i] == '_' {
			raw = s[i+1:]
			break
		}
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
