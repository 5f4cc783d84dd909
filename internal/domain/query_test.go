package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"trims", "  dive bars in Austin  ", "dive bars in Austin", false},
		{"minimum", "abc", "abc", false},
		{"too short", " ab ", "", true},
		{"empty", "", "", true},
		{"too long", strings.Repeat("a", MaxQueryLength+1), "", true},
		{"max length", strings.Repeat("a", MaxQueryLength), strings.Repeat("a", MaxQueryLength), false},
		{"script tag", "bars <SCRIPT>alert(1)</script>", "", true},
		{"javascript url", "javascript:alert(1) bars", "", true},
		{"handler", `<img onerror=x> bars`, "", true},
		{"iframe", "<iframe src=x> bars", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuery(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsedQuery_Complete(t *testing.T) {
	if !(ParsedQuery{Location: "Austin", Intent: "dive bars"}).Complete() {
		t.Error("expected complete")
	}
	if (ParsedQuery{Location: "Austin", Intent: "  "}).Complete() {
		t.Error("blank intent should be incomplete")
	}
	if (ParsedQuery{Intent: "dive bars"}).Complete() {
		t.Error("missing location should be incomplete")
	}
}
