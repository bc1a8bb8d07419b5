// Package normalize turns raw user-supplied handles into canonical cache key
// components. Normalization is pure and deterministic: the same raw input
// always produces the same key, independent of locale or prior calls.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Mode selects the validation policy for incoming queries.
type Mode string

const (
	// ModeStrict restricts queries to [A-Za-z0-9_] handles.
	ModeStrict Mode = "strict"
	// ModeDisplay allows arbitrary Unicode display names but blocks
	// characters commonly used in injection attacks.
	ModeDisplay Mode = "display"
)

// DefaultMaxLength is the maximum accepted query length in code points.
const DefaultMaxLength = 50

// deniedChars are rejected in display mode: shell and markup metacharacters
// that have no place in a social-media handle or display name.
const deniedChars = "<>{}()[];`$|&"

var (
	ErrEmpty          = errors.New("normalize: empty query")
	ErrTooLong        = errors.New("normalize: query too long")
	ErrDisallowedChar = errors.New("normalize: disallowed character")
)

// Config holds normalizer policy. The zero value is not usable; use
// DefaultConfig.
type Config struct {
	Mode      Mode `json:"mode" yaml:"mode"`
	MaxLength int  `json:"max_length" yaml:"max_length"`
}

// DefaultConfig returns strict-handle normalization with the default length cap.
func DefaultConfig() Config {
	return Config{Mode: ModeStrict, MaxLength: DefaultMaxLength}
}

// Result is a successfully normalized query.
type Result struct {
	// Key is the canonical, case-folded form used for cache addressing.
	Key string
	// Display preserves the original casing for presentation. In strict
	// mode Display equals Key.
	Display string
}

// Normalizer validates and canonicalizes raw queries.
type Normalizer struct {
	cfg Config
}

// New creates a Normalizer with the given policy.
func New(cfg Config) *Normalizer {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStrict
	}
	return &Normalizer{cfg: cfg}
}

// Normalize trims whitespace, strips a single leading @, folds inner
// whitespace runs to single spaces, and validates the result against the
// configured mode. It is idempotent: normalizing a previous Key or Display
// yields the same Key.
func (n *Normalizer) Normalize(raw string) (Result, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	s = strings.Join(strings.Fields(s), " ")

	if s == "" {
		return Result{}, ErrEmpty
	}
	if utf8.RuneCountInString(s) > n.cfg.MaxLength {
		return Result{}, fmt.Errorf("%w: %d code points (max %d)",
			ErrTooLong, utf8.RuneCountInString(s), n.cfg.MaxLength)
	}

	switch n.cfg.Mode {
	case ModeDisplay:
		if i := strings.IndexAny(s, deniedChars); i >= 0 {
			return Result{}, fmt.Errorf("%w: %q", ErrDisallowedChar, s[i])
		}
		return Result{Key: strings.ToLower(s), Display: s}, nil
	default:
		for _, r := range s {
			if !isHandleRune(r) {
				return Result{}, fmt.Errorf("%w: %q", ErrDisallowedChar, r)
			}
		}
		key := strings.ToLower(s)
		return Result{Key: key, Display: key}, nil
	}
}

func isHandleRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	}
	return false
}
