// Package reference validates and decomposes the hierarchical section
// identifiers used by corpus documents. A numbering grammar is an ordered
// list of regular expressions, one per hierarchy level, plus an optional set
// of literal headings ("Preamble", "Introduction") that sit outside the
// numbering scheme.
package reference

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidReference is returned when a reference cannot be decomposed
// under the grammar it is checked against.
var ErrInvalidReference = errors.New("corpuschat: invalid reference")

// Checker validates section references against one document's numbering
// grammar.
type Checker interface {
	// IsValid reports whether ref fully decomposes under the grammar or is
	// one of the exclusion literals.
	IsValid(ref string) bool

	// Split returns the grammar components of ref in order. Joining the
	// components reproduces ref exactly.
	Split(ref string) ([]string, error)

	// Extract scans free text for the components of a reference, level by
	// level, and returns the concatenation of everything found before the
	// first level that cannot be located. ok is false when nothing at all
	// was found.
	Extract(s string) (ref string, ok bool)

	// Parent returns ref with its last component removed. The parent of a
	// top-level reference, and of "", is "".
	Parent(ref string) (string, error)

	// SelfAndAncestors returns ref followed by each successive parent up to
	// the top level.
	SelfAndAncestors(ref string) []string

	// AnyAncestorIn reports whether ref or any of its ancestors appears in
	// list.
	AnyAncestorIn(ref string, list []string) bool

	// Describe returns the human-readable rendering of the grammar. It is
	// quoted to the LLM when it must produce a reference.
	Describe() string

	// Exclusions returns the literal headings accepted outside the grammar.
	Exclusions() []string
}

type level struct {
	anchored *regexp.Regexp // consumes a prefix of the remaining reference
	loose    *regexp.Regexp // locates the component anywhere in free text
}

type checker struct {
	levels     []level
	describe   string
	exclusions []string
}

// New compiles the per-level patterns of a numbering grammar. Patterns are
// applied in order, each consuming a prefix of the remaining reference, so
// they are anchored here whether or not they arrive with a leading caret.
// describe is the text shown to the LLM as the expected reference format;
// when empty it is derived from the patterns.
func New(patterns []string, describe string, exclusions []string) (Checker, error) {
	if len(patterns) == 0 {
		return nil, errors.New("corpuschat: reference grammar needs at least one pattern")
	}
	c := &checker{describe: describe, exclusions: exclusions}
	for _, p := range patterns {
		bare := strings.TrimPrefix(p, "^")
		anchored, err := regexp.Compile("^(?:" + bare + ")")
		if err != nil {
			return nil, fmt.Errorf("compiling reference pattern %q: %w", p, err)
		}
		loose, err := regexp.Compile(bare)
		if err != nil {
			return nil, fmt.Errorf("compiling reference pattern %q: %w", p, err)
		}
		c.levels = append(c.levels, level{anchored: anchored, loose: loose})
	}
	if describe == "" {
		var b strings.Builder
		for _, p := range patterns {
			b.WriteString("(" + strings.TrimPrefix(p, "^") + ")")
		}
		c.describe = b.String()
	}
	return c, nil
}

// MustNew is New for grammars known at compile time; it panics on a bad
// pattern.
func MustNew(patterns []string, describe string, exclusions []string) Checker {
	c, err := New(patterns, describe, exclusions)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *checker) excluded(ref string) bool {
	for _, e := range c.exclusions {
		if ref == e {
			return true
		}
	}
	return false
}

func (c *checker) IsValid(ref string) bool {
	if c.excluded(ref) {
		return true
	}
	rest := ref
	matched := false
	for _, lv := range c.levels {
		if rest == "" {
			continue
		}
		loc := lv.anchored.FindStringIndex(rest)
		if loc == nil {
			if matched {
				// A deeper level no longer follows the grammar.
				return false
			}
			continue
		}
		rest = rest[loc[1]:]
		matched = true
	}
	return matched && rest == ""
}

func (c *checker) Split(ref string) ([]string, error) {
	if ref == "" {
		return nil, nil
	}
	if c.excluded(ref) {
		return []string{ref}, nil
	}
	var parts []string
	rest := ref
	for _, lv := range c.levels {
		if rest == "" {
			continue
		}
		loc := lv.anchored.FindStringIndex(rest)
		if loc == nil {
			if len(parts) > 0 {
				return nil, fmt.Errorf("%w: %q does not follow the numbering scheme", ErrInvalidReference, ref)
			}
			continue
		}
		parts = append(parts, rest[:loc[1]])
		rest = rest[loc[1]:]
	}
	if rest != "" {
		return nil, fmt.Errorf("%w: %q does not follow the numbering scheme", ErrInvalidReference, ref)
	}
	return parts, nil
}

func (c *checker) Extract(s string) (string, bool) {
	if trimmed := strings.TrimSpace(s); c.excluded(trimmed) {
		return trimmed, true
	}
	var b strings.Builder
	rest := s
	for _, lv := range c.levels {
		loc := lv.loose.FindStringIndex(rest)
		if loc == nil {
			break
		}
		b.WriteString(rest[loc[0]:loc[1]])
		rest = rest[loc[1]:]
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

func (c *checker) Parent(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	parts, err := c.Split(ref)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: %q has no components", ErrInvalidReference, ref)
	}
	return strings.Join(parts[:len(parts)-1], ""), nil
}

func (c *checker) SelfAndAncestors(ref string) []string {
	out := []string{ref}
	cur := ref
	for cur != "" {
		parent, err := c.Parent(cur)
		if err != nil || parent == "" {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out
}

func (c *checker) AnyAncestorIn(ref string, list []string) bool {
	for _, candidate := range c.SelfAndAncestors(ref) {
		for _, item := range list {
			if candidate == item {
				return true
			}
		}
	}
	return false
}

func (c *checker) Describe() string { return c.describe }

func (c *checker) Exclusions() []string { return c.exclusions }

// empty is the grammar of documents without internal numbering: the only
// valid references are the whole-document ones.
type empty struct{}

// NewEmpty returns a checker for unstructured documents. It accepts "" and
// the literal "all" and nothing else; Extract always yields the
// whole-document reference "".
func NewEmpty() Checker { return empty{} }

func (empty) IsValid(ref string) bool { return ref == "" || ref == "all" }

func (empty) Split(ref string) ([]string, error) { return nil, nil }

func (empty) Extract(s string) (string, bool) { return "", true }

func (empty) Parent(ref string) (string, error) { return "", nil }

func (empty) SelfAndAncestors(ref string) []string { return []string{""} }

func (empty) AnyAncestorIn(ref string, list []string) bool {
	for _, item := range list {
		if item == ref {
			return true
		}
	}
	return false
}

func (empty) Describe() string { return "" }

func (empty) Exclusions() []string { return nil }

// multi combines several grammars. Operations delegate to the first
// sub-checker that accepts the reference.
type multi struct {
	checkers []Checker
}

// NewMulti returns a checker that accepts a reference when any of the given
// checkers does.
func NewMulti(checkers ...Checker) Checker { return multi{checkers: checkers} }

func (m multi) IsValid(ref string) bool {
	for _, c := range m.checkers {
		if c.IsValid(ref) {
			return true
		}
	}
	return false
}

func (m multi) Split(ref string) ([]string, error) {
	for _, c := range m.checkers {
		if c.IsValid(ref) {
			return c.Split(ref)
		}
	}
	return nil, fmt.Errorf("%w: %q is not valid under any grammar", ErrInvalidReference, ref)
}

func (m multi) Extract(s string) (string, bool) {
	for _, c := range m.checkers {
		if ref, ok := c.Extract(s); ok {
			return ref, true
		}
	}
	return "", false
}

func (m multi) Parent(ref string) (string, error) {
	for _, c := range m.checkers {
		if c.IsValid(ref) {
			return c.Parent(ref)
		}
	}
	return "", fmt.Errorf("%w: %q is not valid under any grammar", ErrInvalidReference, ref)
}

func (m multi) SelfAndAncestors(ref string) []string {
	for _, c := range m.checkers {
		if c.IsValid(ref) {
			return c.SelfAndAncestors(ref)
		}
	}
	return []string{ref}
}

func (m multi) AnyAncestorIn(ref string, list []string) bool {
	for _, c := range m.checkers {
		if c.IsValid(ref) {
			return c.AnyAncestorIn(ref, list)
		}
	}
	for _, item := range list {
		if item == ref {
			return true
		}
	}
	return false
}

func (m multi) Describe() string {
	var parts []string
	for _, c := range m.checkers {
		if d := c.Describe(); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, ", or ")
}

func (m multi) Exclusions() []string {
	var out []string
	for _, c := range m.checkers {
		out = append(out, c.Exclusions()...)
	}
	return out
}
