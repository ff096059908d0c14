package round

import (
	"testing"
	"time"
)

func TestStaticSource(t *testing.T) {
	s := NewStaticSource(7)
	if s.Current() != 7 {
		t.Fatalf("got %d, want 7", s.Current())
	}
	s.Set(9)
	if s.Current() != 9 {
		t.Fatalf("got %d, want 9", s.Current())
	}
}

func TestTicker_Advances(t *testing.T) {
	tk := NewTicker(1, 10*time.Millisecond)
	tk.Start()
	defer tk.Stop()

	deadline := time.After(2 * time.Second)
	for tk.Current() < 3 {
		select {
		case <-deadline:
			t.Fatalf("round did not advance past %d", tk.Current())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTicker_StopIsIdempotent(t *testing.T) {
	tk := NewTicker(1, time.Hour)
	tk.Start()
	tk.Stop()
	tk.Stop()
	if tk.Current() != 1 {
		t.Fatalf("got %d, want 1", tk.Current())
	}
}
