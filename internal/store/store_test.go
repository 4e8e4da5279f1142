package store

import (
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("amount out of range: %w", ErrValidation), "validation"},
		{fmt.Errorf("wrapped twice: %w", fmt.Errorf("inner: %w", ErrConflict)), "conflict"},
		{ErrConcurrentModification, "conflict"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrNotFound, "not_found"},
		{fmt.Errorf("boom"), "internal"},
	}

	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Errorf("Kind(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
