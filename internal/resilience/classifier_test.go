package resilience

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg       string
		category  ErrorCategory
		retryable bool
		clear     bool
	}{
		{"Stream Errored (conflict)", CategoryConflict, true, true},
		{"session replaced by new login", CategoryConflict, true, true},
		{"Connection timed out", CategoryTimeout, true, false},
		{"request timeout", CategoryTimeout, true, false},
		{"logged out", CategoryAuth, false, true},
		{"401 Unauthorized", CategoryAuth, false, true},
		{"account banned", CategoryAuth, false, true},
		{"invalid session state", CategoryAuth, false, true},
		{"network error", CategoryNetwork, true, false},
		{"connection reset by peer", CategoryNetwork, true, false},
		{"something exploded", CategoryUnknown, true, false},
	}

	for _, tt := range tests {
		got := Classify(errors.New(tt.msg))
		if got.Category != tt.category {
			t.Errorf("Classify(%q).Category = %v, want %v", tt.msg, got.Category, tt.category)
		}
		if got.Retryable != tt.retryable {
			t.Errorf("Classify(%q).Retryable = %v, want %v", tt.msg, got.Retryable, tt.retryable)
		}
		if got.ClearCredentials != tt.clear {
			t.Errorf("Classify(%q).ClearCredentials = %v, want %v", tt.msg, got.ClearCredentials, tt.clear)
		}
	}
}

func TestClassifyPrecedence(t *testing.T) {
	// Mentions both "connection" and "timed out"; timeout wins.
	if got := ErrorType(errors.New("connection timed out")); got != CategoryTimeout {
		t.Errorf("ErrorType = %v, want %v", got, CategoryTimeout)
	}

	// Mentions both "connection" and "conflict"; conflict wins.
	if got := ErrorType(errors.New("connection conflict detected")); got != CategoryConflict {
		t.Errorf("ErrorType = %v, want %v", got, CategoryConflict)
	}
}

func TestClassifyNil(t *testing.T) {
	got := Classify(nil)
	if got.Category != CategoryUnknown || !got.Retryable || got.ClearCredentials {
		t.Errorf("Classify(nil) = %+v, want retryable unknown", got)
	}
}

func TestShouldClearAuth(t *testing.T) {
	if !ShouldClearAuth(errors.New("logged out")) {
		t.Error("logged out should clear credentials")
	}
	if !ShouldClearAuth(errors.New("Stream Errored (conflict)")) {
		t.Error("conflict should clear credentials")
	}
	if ShouldClearAuth(errors.New("network error")) {
		t.Error("network error should not clear credentials")
	}
}
