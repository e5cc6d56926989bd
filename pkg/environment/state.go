// Package environment builds one disposable, isolated installation per
// historical revision: checkout, benchmark overlay, dependency install.
package environment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// State is a step of the per-revision build state machine.
type State string

// Build states, in order. StateFailed is reachable from every other state.
const (
	StateCheckout State = "checkout"
	StateOverlay  State = "overlay_benchmarks"
	StateInstall  State = "install"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// StateError records the state a build failed in.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("environment failed during %s: %v", e.State, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StateError) Unwrap() error { return e.Err }

// Dependencies is the reconciled benchmark dependency set. It is computed
// once per run and handed unchanged to every build.
type Dependencies struct {
	Group     string
	Benchmark []string
	Digest    string
}

// NewDependencies freezes a benchmark requirement list.
func NewDependencies(group string, benchmark []string) Dependencies {
	reqs := make([]string, len(benchmark))
	copy(reqs, benchmark)

	sum := sha256.Sum256([]byte(group + "\x00" + strings.Join(reqs, "\x00")))

	return Dependencies{Group: group, Benchmark: reqs, Digest: hex.EncodeToString(sum[:])}
}
