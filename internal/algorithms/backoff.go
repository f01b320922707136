// Package algorithms holds the retry backoff strategies used for calls to
// external collaborators.
package algorithms

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// maxShift keeps 1<<attempt from overflowing.
const maxShift = 62

// Kind selects a backoff algorithm.
type Kind int

const (
	// Exponential doubles the delay on every attempt.
	Exponential Kind = iota
	// Jittered randomizes an exponential delay by a fixed factor.
	Jittered
	// Decorrelated picks each delay from [initial, 3*previous].
	Decorrelated
)

func (k Kind) String() string {
	switch k {
	case Jittered:
		return "jittered"
	case Decorrelated:
		return "decorrelated"
	default:
		return "exponential"
	}
}

// ErrUnknownKind is returned by ParseKind for unrecognised names.
var ErrUnknownKind = errors.New("algorithms: unknown backoff")

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exponential":
		return Exponential, nil
	case "jittered", "jitter":
		return Jittered, nil
	case "decorrelated":
		return Decorrelated, nil
	default:
		return Exponential, fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

// Strategy computes the wait before a retry.
type Strategy interface {
	// Next returns the delay before retry number attempt (0-indexed).
	Next(attempt int) time.Duration
	// Reset clears per-call state before a new sequence of attempts.
	Reset()
}

// New builds a Strategy. jitter only applies to Jittered and is clamped to
// [0, 1].
func New(kind Kind, initial, maxDelay time.Duration, jitter float64) Strategy {
	switch kind {
	case Jittered:
		return newJittered(initial, maxDelay, jitter)
	case Decorrelated:
		return newDecorrelated(initial, maxDelay)
	default:
		return exponential{initial: initial, maxDelay: maxDelay}
	}
}

type exponential struct {
	initial, maxDelay time.Duration
}

func (e exponential) Next(attempt int) time.Duration {
	return expDelay(attempt, e.initial, e.maxDelay)
}

func (exponential) Reset() {}

// jittered spreads retries of calls that failed together by scaling the
// exponential delay with a random factor in [1-jitter, 1+jitter].
type jittered struct {
	initial, maxDelay time.Duration
	jitter            float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newJittered(initial, maxDelay time.Duration, jitter float64) *jittered {
	return &jittered{
		initial:  initial,
		maxDelay: maxDelay,
		jitter:   clamp(jitter, 0, 1),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func (j *jittered) Next(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	base := expDelay(attempt, j.initial, j.maxDelay)

	j.mu.Lock()
	factor := 1 + (j.rng.Float64()*2-1)*j.jitter
	j.mu.Unlock()

	return clamp(time.Duration(float64(base)*factor), 0, j.maxDelay)
}

func (*jittered) Reset() {}

// decorrelated makes each delay depend on the previous one:
// sleep = min(max, random(initial, prev*3)).
type decorrelated struct {
	initial, maxDelay time.Duration

	mu   sync.Mutex
	prev time.Duration
	rng  *rand.Rand
}

func newDecorrelated(initial, maxDelay time.Duration) *decorrelated {
	return &decorrelated{
		initial:  initial,
		maxDelay: maxDelay,
		prev:     initial,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func (d *decorrelated) Next(attempt int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if attempt <= 0 {
		d.prev = d.initial
		return d.initial
	}

	upper := min(time.Duration(float64(d.prev)*3), d.maxDelay)
	span := upper - d.initial
	if span <= 0 {
		d.prev = d.initial
		return d.initial
	}

	d.prev = d.initial + time.Duration(d.rng.Int63n(int64(span)))
	return d.prev
}

func (d *decorrelated) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = d.initial
}

func expDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		return 0
	}
	if attempt >= maxShift {
		return maxDelay
	}

	delay := time.Duration(int64(1)<<uint(attempt)) * initial
	if delay > maxDelay || delay < 0 {
		return maxDelay
	}
	return delay
}

func clamp[T int | int64 | float64 | time.Duration](v, lo, hi T) T {
	return max(lo, min(v, hi))
}
