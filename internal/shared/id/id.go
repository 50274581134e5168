// Package id provides centralized ID generation for the backend.
//
// All identifiers are prefixed ULIDs generated from cryptographically secure
// entropy. Session ids in particular must be unguessable: knowing one id must
// not let a caller enumerate others, and a deleted id is never reissued
// (ULIDs embed a monotonic timestamp plus 80 bits of entropy).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a dialogue session
type SessionID string

// SubjectID identifies an uploaded image or video
type SubjectID string

// RequestID identifies an API request
type RequestID string

const (
	SessionPrefix = "sess"
	SubjectPrefix = "subj"
	RequestPrefix = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSessionID generates a new dialogue session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewSubjectID generates a new subject upload ID
func NewSubjectID() SubjectID {
	return SubjectID(Default().GenerateWithPrefix(SubjectPrefix))
}

// NewRequestID generates a new API request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id SessionID) String() string { return string(id) }
func (id SubjectID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }

// rawULID strips an optional "prefix_" from an id, leaving the ULID part.
func rawULID(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// IsValid checks if an ID string, prefixed or raw, carries a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(rawULID(id))
	return err == nil
}

// Timestamp extracts the creation time from an ID string, prefixed or raw
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(rawULID(id))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
