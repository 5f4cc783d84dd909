package db

import (
	"context"
	"errors"
	"testing"
)

func TestError_FormatAndUnwrap(t *testing.T) {
	withKey := &Error{Op: OpHGetAll, Key: "underfoot:semantic:abc", Err: context.DeadlineExceeded}
	if got := withKey.Error(); got != "HGETALL underfoot:semantic:abc: context deadline exceeded" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(withKey, context.DeadlineExceeded) {
		t.Error("expected Unwrap to expose the cause")
	}

	noKey := &Error{Op: OpSearch, Err: errors.New("syntax error")}
	if got := noKey.Error(); got != "FT.SEARCH: syntax error" {
		t.Errorf("Error() = %q", got)
	}
}
