// Package idalloc generates and allocates human-readable session handles.
//
// The word lists a real deployment uses are an external collaborator (see
// the purpose-and-scope non-goals); Lexicon below is the seam a caller
// plugs a richer list into. The collision-checking algorithm itself —
// generate a candidate, ask the registry and every enabled backend whether
// it's taken, retry up to a bound, fail closed — is this package's actual
// contribution.
package idalloc

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhaustedIdSpace is returned by FindAvailable after maxAttempts
// candidates all collided.
var ErrExhaustedIdSpace = errors.New("idalloc: exhausted id space")

const (
	maxAttempts       = 250
	multiplexerPrefix = "ds-"
)

// Lexicon supplies the two word lists a handle is drawn from.
type Lexicon interface {
	Adjectives() []string
	Nouns() []string
}

// defaultLexicon is a small built-in word list, sized for tests and for a
// single-operator deployment; production deployments supply their own
// Lexicon via New.
type defaultLexicon struct{}

func (defaultLexicon) Adjectives() []string {
	return []string{
		"bright", "quiet", "swift", "amber", "bold", "calm", "eager",
		"gentle", "hollow", "iron", "jolly", "keen", "lucky", "mellow",
		"nimble", "orange", "proud", "quick", "ruddy", "sharp",
	}
}

func (defaultLexicon) Nouns() []string {
	return []string{
		"otter", "falcon", "ridge", "harbor", "ember", "thicket", "meadow",
		"compass", "lantern", "quarry", "summit", "brook", "canyon",
		"willow", "forge", "anchor", "delta", "grove", "heron", "isle",
	}
}

// DefaultLexicon returns the built-in word lists.
func DefaultLexicon() Lexicon {
	return defaultLexicon{}
}

// Allocator draws unique handles from a Lexicon, checking for collisions
// against a registry and a set of live backends.
type Allocator struct {
	lex Lexicon
	rng *rand.Rand
}

// New returns an Allocator drawing from lex. A nil lex uses DefaultLexicon.
func New(lex Lexicon) *Allocator {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Allocator{lex: lex, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Generate returns one two-token dash-separated handle candidate, e.g.
// "bright-otter". It performs no collision checking.
func (a *Allocator) Generate() string {
	adjectives := a.lex.Adjectives()
	nouns := a.lex.Nouns()
	adj := adjectives[a.rng.Intn(len(adjectives))]
	noun := nouns[a.rng.Intn(len(nouns))]
	return fmt.Sprintf("%s-%s", adj, noun)
}

// ToMultiplexerName prepends the constant prefix used for multiplexer
// session names, so external listings of the multiplexer's own sessions can
// be partitioned from sessions owned by other tools.
func ToMultiplexerName(handle string) string {
	return multiplexerPrefix + handle
}

// TakenChecker reports whether a candidate handle is already in use. The
// Session Manager supplies one backed by the registry, and one per enabled
// backend (TERM multiplexer session names, RPC thread ids).
type TakenChecker func(candidate string) (bool, error)

// FindAvailable draws up to 250 candidates from Generate, rejecting any
// that any checker reports as taken. Returns ErrExhaustedIdSpace if none of
// the candidates is free.
func (a *Allocator) FindAvailable(checkers ...TakenChecker) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := a.Generate()

		taken := false
		for _, check := range checkers {
			ok, err := check(candidate)
			if err != nil {
				return "", fmt.Errorf("idalloc: checking %q: %w", candidate, err)
			}
			if ok {
				taken = true
				break
			}
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhaustedIdSpace
}
