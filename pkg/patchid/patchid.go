// Package patchid implements PatchId: the lexicographically-orderable
// identity every patch in the graph carries. An id is a fixed-width
// base-36 millisecond timestamp, an underscore, and an opaque
// per-client random token: "<time36>_<client>". Sorting ids as plain
// strings yields the deterministic replay order the rest of patchflow
// relies on (see pkg/patchgraph).
package patchid

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sagemathinc/patchflow/internal/errs"
)

// ID is a PatchId: a plain string, ordered lexicographically.
type ID string

const (
	timeWidth = 11
	base      = 36
)

var base36 = big.NewInt(base)

// Encode builds an ID from a millisecond timestamp and a client token.
// timeMs must be finite and non-negative or an error is returned. These
// are caller-configuration mistakes (a bad clock source, a manually
// supplied timestamp), not malformed-id errors, so they report
// ErrConfigError rather than ErrInvalidPatchID (that sentinel is
// reserved for Decode's parse failures).
func Encode(timeMs int64, clientID string) (ID, error) {
	if timeMs < 0 {
		return "", fmt.Errorf("patchid: encode: negative time %d: %w", timeMs, errs.ErrConfigError)
	}
	digits := toBase36(timeMs)
	if len(digits) > timeWidth {
		return "", fmt.Errorf("patchid: encode: time %d overflows %d base-36 digits: %w", timeMs, timeWidth, errs.ErrConfigError)
	}
	padded := strings.Repeat("0", timeWidth-len(digits)) + digits
	return ID(padded + "_" + clientID), nil
}

// MustEncode panics on error; for call sites that have already
// validated their inputs (e.g. Generator, which only ever encodes
// clock-derived times).
func MustEncode(timeMs int64, clientID string) ID {
	id, err := Encode(timeMs, clientID)
	if err != nil {
		panic(err)
	}
	return id
}

// Legacy encodes a PatchId for pre-client-id history using the fixed
// client token "legacy".
func Legacy(timeMs int64) (ID, error) {
	return Encode(timeMs, "legacy")
}

// Decode splits an ID back into its millisecond timestamp and client
// token. The first timeWidth characters are always the time field and
// the (timeWidth)'th character must be '_' — client tokens may
// themselves contain underscores, so this is a fixed-width parse, never
// a split-on-last-underscore.
func Decode(id ID) (timeMs int64, clientID string, err error) {
	s := string(id)
	if len(s) < timeWidth+2 {
		return 0, "", fmt.Errorf("patchid: decode %q: too short: %w", s, errs.ErrInvalidPatchID)
	}
	if s[timeWidth] != '_' {
		return 0, "", fmt.Errorf("patchid: decode %q: missing delimiter at position %d: %w", s, timeWidth, errs.ErrInvalidPatchID)
	}
	timeDigits := s[:timeWidth]
	client := s[timeWidth+1:]
	if client == "" {
		return 0, "", fmt.Errorf("patchid: decode %q: empty client token: %w", s, errs.ErrInvalidPatchID)
	}
	t, ok := fromBase36(timeDigits)
	if !ok {
		return 0, "", fmt.Errorf("patchid: decode %q: invalid base-36 time digits: %w", s, errs.ErrInvalidPatchID)
	}
	return t, client, nil
}

// Compare is lexicographic string comparison: negative if a<b, zero if
// equal, positive if a>b. This is the ordering that defines replay
// order (invariant 5).
func Compare(a, b ID) int {
	return strings.Compare(string(a), string(b))
}

// Less reports whether a sorts before b.
func Less(a, b ID) bool { return Compare(a, b) < 0 }

func toBase36(n int64) string {
	if n == 0 {
		return "0"
	}
	return big.NewInt(n).Text(base)
}

func fromBase36(s string) (int64, bool) {
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return 0, false
	}
	if !n.IsInt64() {
		return 0, false
	}
	return n.Int64(), true
}

// NewClientID generates a client-random token: 96 bits of CSPRNG
// entropy, base64url-encoded without padding. This satisfies the "≥12
// bytes, base64url" requirement (12 bytes = 96 bits) and is safe to use
// for cryptographic purposes (unlike the fallback below).
func NewClientID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err == nil {
		return base64.RawURLEncoding.EncodeToString(buf[:])
	}
	// crypto/rand failing is effectively unheard of on real systems; if
	// it ever does, google/uuid's own fallback chain is a second real
	// entropy source to try before giving up to the weak path.
	if u, err := uuid.NewRandom(); err == nil {
		return base64.RawURLEncoding.EncodeToString(u[:12])
	}
	return weakClientID()
}

var (
	weakWarnOnce sync.Once
	weakMu       sync.Mutex
	weakRand     = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	weakCounter  int64
)

// weakClientID is the out-of-contract fallback used only when no CSPRNG
// is reachable: clock + counter + pseudo-random bytes. It is explicitly
// unsuitable for cryptographic use and warns exactly once per process.
func weakClientID() string {
	weakWarnOnce.Do(func() {
		fmt.Println("patchid: WARNING: no CSPRNG available, falling back to a weak client id generator (not suitable for cryptographic use)")
	})
	weakMu.Lock()
	weakCounter++
	n := weakCounter
	weakMu.Unlock()

	buf := make([]byte, 12)
	binaryPutInt64(buf[:8], time.Now().UnixNano()^n)
	weakRand.Read(buf[8:])
	return base64.RawURLEncoding.EncodeToString(buf)
}

func binaryPutInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8 && i < len(b); i++ {
		b[i] = byte(u >> (8 * uint(i)))
	}
}

// Generator issues monotonically-increasing PatchIds for a fixed
// client, satisfying invariant 4: per clientID, the time component of
// successive emitted PatchIds is strictly increasing
// (t = max(lastT + 1, clock())).
type Generator struct {
	mu       sync.Mutex
	clientID string
	lastT    int64
	clock    func() int64
}

// NewGenerator builds a Generator for clientID. clock defaults to the
// wall clock in milliseconds if nil.
func NewGenerator(clientID string, clock func() int64) *Generator {
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}
	return &Generator{clientID: clientID, clock: clock}
}

// Next returns the next monotonic PatchId and the time it encodes.
func (g *Generator) Next() (ID, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.clock()
	if t > g.lastT {
		g.lastT = t
	} else {
		g.lastT++
	}
	return MustEncode(g.lastT, g.clientID), g.lastT
}

// LastTimeMs returns the most recently issued (or observed, via
// Observe) time, or 0 if none yet.
func (g *Generator) LastTimeMs() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastT
}

// Observe folds an externally-seen time into the generator's clock
// floor (used when ingesting remote patches, so subsequent local
// commits still sort after everything seen so far).
func (g *Generator) Observe(timeMs int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if timeMs > g.lastT {
		g.lastT = timeMs
	}
}
