package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestBudget_Exhausted(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		want      bool
	}{
		{"positive budget", 10, false},
		{"single unit", 1, false},
		{"zero budget", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Budget{Remaining: tt.remaining}
			if got := b.Exhausted(); got != tt.want {
				t.Errorf("Exhausted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBudget_TimeUntilReset(t *testing.T) {
	b := Budget{ResetAt: time.Now().Add(30 * time.Second)}
	d := b.TimeUntilReset()
	if d <= 25*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", d)
	}

	past := Budget{ResetAt: time.Now().Add(-10 * time.Second)}
	if d := past.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() for past reset = %v, want 0", d)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set(HeaderRemain, "42")
	headers.Set(HeaderReset, "30")

	remaining, resetIn, ok, err := ParseHeaders(headers)
	if err != nil {
		t.Fatalf("ParseHeaders failed: %v", err)
	}
	if !ok {
		t.Fatal("ParseHeaders ok = false, want true")
	}
	if remaining != 42 {
		t.Errorf("remaining = %d, want 42", remaining)
	}
	if resetIn != 30*time.Second {
		t.Errorf("resetIn = %v, want 30s", resetIn)
	}
}

func TestParseHeaders_Absent(t *testing.T) {
	// No budget headers at all is normal for non-API responses.
	_, _, ok, err := ParseHeaders(http.Header{})
	if err != nil {
		t.Fatalf("ParseHeaders failed: %v", err)
	}
	if ok {
		t.Error("ParseHeaders ok = true for absent headers, want false")
	}
}

func TestParseHeaders_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		remain string
		reset  string
	}{
		{"non-numeric remain", "abc", "30"},
		{"missing reset", "42", ""},
		{"non-numeric reset", "42", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			headers.Set(HeaderRemain, tt.remain)
			if tt.reset != "" {
				headers.Set(HeaderReset, tt.reset)
			}

			if _, _, _, err := ParseHeaders(headers); err == nil {
				t.Error("ParseHeaders succeeded, want error")
			}
		})
	}
}
