package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestIDHeader carries the per-request identifier on outbound and inbound HTTP calls.
const RequestIDHeader = "X-Request-ID"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewRequestID returns an identifier for a single outbound request.
func NewRequestID() string {
	return "req_" + New()
}

// Valid reports whether s is a well-formed ULID (with or without the request prefix).
func Valid(s string) bool {
	if len(s) > 4 && s[:4] == "req_" {
		s = s[4:]
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
