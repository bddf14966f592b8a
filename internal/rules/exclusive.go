package rules

import (
	"fmt"
)

// Exclusive links two rules so that when either finishes after an
// activation the other is removed without running its handlers.
func Exclusive(a, b Rule) error {
	if a == nil || b == nil {
		return ErrNilRule
	}
	if a.ID() == b.ID() {
		return fmt.Errorf("%w: %s", ErrSelfExclusive, a.Name())
	}

	a.core().addExclusive(b)
	b.core().addExclusive(a)
	return nil
}

// TokenString renders a rule token for logs and activations
func TokenString(token any) string {
	switch t := token.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
