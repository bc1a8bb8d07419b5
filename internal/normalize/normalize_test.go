package normalize

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeStrict(t *testing.T) {
	n := New(DefaultConfig())

	t.Run("strips leading at and lowercases", func(t *testing.T) {
		res, err := n.Normalize("  @Pentosh1  ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Key != "pentosh1" {
			t.Errorf("expected key pentosh1, got %q", res.Key)
		}
		if res.Display != "pentosh1" {
			t.Errorf("strict mode display should equal key, got %q", res.Display)
		}
	})

	t.Run("rejects empty", func(t *testing.T) {
		for _, raw := range []string{"", "   ", "@", " @ "} {
			if _, err := n.Normalize(raw); !errors.Is(err, ErrEmpty) {
				t.Errorf("Normalize(%q): expected ErrEmpty, got %v", raw, err)
			}
		}
	})

	t.Run("rejects over max length", func(t *testing.T) {
		raw := strings.Repeat("a", DefaultMaxLength+1)
		if _, err := n.Normalize(raw); !errors.Is(err, ErrTooLong) {
			t.Errorf("expected ErrTooLong, got %v", err)
		}
		// Exactly at the limit is fine.
		if _, err := n.Normalize(strings.Repeat("a", DefaultMaxLength)); err != nil {
			t.Errorf("expected max-length input to pass, got %v", err)
		}
	})

	t.Run("rejects non-handle characters", func(t *testing.T) {
		for _, raw := range []string{"pen tosh", "pento$h", "пентош", "a<b"} {
			if _, err := n.Normalize(raw); !errors.Is(err, ErrDisallowedChar) {
				t.Errorf("Normalize(%q): expected ErrDisallowedChar, got %v", raw, err)
			}
		}
	})
}

func TestNormalizeDisplay(t *testing.T) {
	n := New(Config{Mode: ModeDisplay, MaxLength: DefaultMaxLength})

	t.Run("preserves casing for display", func(t *testing.T) {
		res, err := n.Normalize("@Crypto Whale")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Key != "crypto whale" {
			t.Errorf("expected folded key, got %q", res.Key)
		}
		if res.Display != "Crypto Whale" {
			t.Errorf("expected original casing preserved, got %q", res.Display)
		}
	})

	t.Run("folds whitespace runs", func(t *testing.T) {
		res, err := n.Normalize("Crypto \t  Whale")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Display != "Crypto Whale" {
			t.Errorf("expected folded whitespace, got %q", res.Display)
		}
	})

	t.Run("allows unicode", func(t *testing.T) {
		res, err := n.Normalize("鯨先生")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Key != "鯨先生" {
			t.Errorf("unexpected key %q", res.Key)
		}
	})

	t.Run("blocks injection characters", func(t *testing.T) {
		for _, raw := range []string{"a<script>", "x;rm", "`cmd`", "a|b", "f(x)", "{y}", "[z]", "$HOME", "a&b"} {
			if _, err := n.Normalize(raw); !errors.Is(err, ErrDisallowedChar) {
				t.Errorf("Normalize(%q): expected ErrDisallowedChar, got %v", raw, err)
			}
		}
	})
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"@Pentosh1", "pentosh1", "  VitalikButerin "}

	t.Run("strict", func(t *testing.T) {
		n := New(DefaultConfig())
		for _, raw := range inputs {
			first, err := n.Normalize(raw)
			if err != nil {
				t.Fatalf("Normalize(%q): %v", raw, err)
			}
			again, err := n.Normalize(first.Key)
			if err != nil {
				t.Fatalf("re-normalize %q: %v", first.Key, err)
			}
			if again != first {
				t.Errorf("not idempotent: %+v != %+v", again, first)
			}
		}
	})

	t.Run("display output re-normalizes to same key", func(t *testing.T) {
		n := New(Config{Mode: ModeDisplay})
		first, err := n.Normalize("@Crypto  Whale")
		if err != nil {
			t.Fatal(err)
		}
		fromDisplay, err := n.Normalize(first.Display)
		if err != nil {
			t.Fatal(err)
		}
		if fromDisplay.Key != first.Key {
			t.Errorf("key drift: %q != %q", fromDisplay.Key, first.Key)
		}
	})
}
