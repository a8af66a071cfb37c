package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: 0},
		{name: "navigation error", err: NavigationError("missing page").Build(), expected: 1},
		{name: "template error", err: TemplateError("bad template").Build(), expected: 1},
		{name: "scan error", err: ScanError("root unreadable").Build(), expected: 1},
		{name: "strict links", err: LinkError("2 broken links").Build(), expected: 2},
		{name: "wrapped strict links", err: fmt.Errorf("build: %w", LinkError("broken").Build()), expected: 2},
		{name: "unclassified error", err: errors.New("unknown error"), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.expected {
				t.Errorf("ExitCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, slog.Default())
	verbose := NewCLIErrorAdapter(true, slog.Default())

	nav := NavigationError("manifest references missing page").WithContext("page", "c.md").Build()

	if got := quiet.FormatError(nil); got != "" {
		t.Errorf("FormatError(nil) = %q, want empty", got)
	}
	if got := quiet.FormatError(nav); got != "Error (navigation): manifest references missing page" {
		t.Errorf("unexpected quiet format %q", got)
	}
	if got := verbose.FormatError(nav); !strings.Contains(got, "[navigation:fatal]") {
		t.Errorf("verbose format should include classification, got %q", got)
	}
	if got := quiet.FormatError(errors.New("boom")); got != "Error: boom" {
		t.Errorf("unexpected unclassified format %q", got)
	}
}
