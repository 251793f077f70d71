package helpers

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second, 0)
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w*time.Second)
		}
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("after reset got %v", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(10*time.Second, 60*time.Second, 0.2)
	for i := 0; i < 200; i++ {
		b.Reset()
		d := b.Next()
		if d < 8*time.Second || d > 12*time.Second {
			t.Fatalf("jittered delay %v outside +-20%%", d)
		}
	}
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	root := errors.New("dial refused")
	err := fmt.Errorf("adapter: %w", NewConnectionError(root, "connect %s", "binance"))

	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatal("expected ConnectionError")
	}
	if !errors.Is(err, root) {
		t.Fatal("cause not reachable")
	}
	if IsConfigurationError(err) {
		t.Fatal("not a configuration error")
	}
	if !IsConfigurationError(NewConfigurationError("period %d", 0)) {
		t.Fatal("expected configuration error")
	}
}
