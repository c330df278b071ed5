package diff

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// ErrMalformedOperation is returned when an operation cannot be applied to
// the content it is offered against.
var ErrMalformedOperation = errors.New("malformed operation")

// Kind names the edit an Operation performs.
type Kind string

// KindReplace is the only supported kind.
const KindReplace Kind = "replace"

// Operation replaces the half-open byte range [Start, End) of the old
// content with Text. Start == End is a pure insertion and an empty Text is
// a pure deletion. Offsets are only meaningful against the exact content
// the operation was computed from.
type Operation struct {
	Kind  Kind   `json:"type"`
	Start int    `json:"rangeStart"`
	End   int    `json:"rangeEnd"`
	Text  string `json:"newText"`
}

// NewReplace creates an operation replacing [start, end) with text.
func NewReplace(start, end int, text string) Operation {
	return Operation{Kind: KindReplace, Start: start, End: end, Text: text}
}

// NewInsert creates an operation inserting text at pos.
func NewInsert(pos int, text string) Operation {
	return NewReplace(pos, pos, text)
}

// NewDelete creates an operation removing [start, end).
func NewDelete(start, end int) Operation {
	return NewReplace(start, end, "")
}

func (op Operation) IsInsert() bool { return op.Start == op.End && op.Text != "" }
func (op Operation) IsDelete() bool { return op.Start < op.End && op.Text == "" }

// IsNoop returns true if the operation makes no changes.
func (op Operation) IsNoop() bool { return op.Start == op.End && op.Text == "" }

func (op Operation) String() string {
	return fmt.Sprintf("%s[%d:%d]%q", op.Kind, op.Start, op.End, op.Text)
}

// Apply applies ops to old and returns the resulting content. All offsets
// refer to old itself, never to partially edited output.
func Apply(old string, ops []Operation) (string, error) {
	sorted, err := validate(old, ops)
	if err != nil {
		return "", err
	}
	if len(sorted) == 0 {
		return old, nil
	}

	var b strings.Builder
	b.Grow(targetLen(len(old), sorted))
	pos := 0
	for _, op := range sorted {
		b.WriteString(old[pos:op.Start])
		b.WriteString(op.Text)
		pos = op.End
	}
	b.WriteString(old[pos:])
	return b.String(), nil
}

// Validate reports whether ops could be applied to old.
func Validate(old string, ops []Operation) error {
	_, err := validate(old, ops)
	return err
}

func validate(old string, ops []Operation) ([]Operation, error) {
	for i, op := range ops {
		if err := checkOne(old, op); err != nil {
			return nil, fmt.Errorf("%w: op %d %s: %v", ErrMalformedOperation, i, op, err)
		}
	}
	if len(ops) < 2 {
		return ops, nil
	}

	sorted := slices.Clone(ops)
	slices.SortStableFunc(sorted, func(a, b Operation) int { return a.Start - b.Start })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Start == prev.Start {
			return nil, fmt.Errorf("%w: ops %s and %s start at the same offset", ErrMalformedOperation, prev, cur)
		}
		if cur.Start < prev.End {
			return nil, fmt.Errorf("%w: ops %s and %s overlap", ErrMalformedOperation, prev, cur)
		}
	}
	return sorted, nil
}

func checkOne(old string, op Operation) error {
	switch {
	case op.Kind != KindReplace:
		return fmt.Errorf("unknown kind %q", op.Kind)
	case op.Start < 0 || op.End > len(old):
		return fmt.Errorf("range out of bounds [0, %d]", len(old))
	case op.Start > op.End:
		return errors.New("start after end")
	case !runeBoundary(old, op.Start) || !runeBoundary(old, op.End):
		return errors.New("range splits a character")
	case !utf8.ValidString(op.Text):
		return errors.New("text is not valid UTF-8")
	}
	return nil
}

func runeBoundary(s string, i int) bool {
	return i == 0 || i == len(s) || utf8.RuneStart(s[i])
}

func targetLen(baseLen int, ops []Operation) int {
	n := baseLen
	for _, op := range ops {
		n += len(op.Text) - (op.End - op.Start)
	}
	return n
}
