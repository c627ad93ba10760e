package notify_test

import (
	"fmt"
	"testing"

	"github.com/garnizeh/rioforms/internal/notify"
)

func TestToasts_KeepsNewestThree(t *testing.T) {
	var ts notify.Toasts
	if got := ts.List(); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
	for i := 1; i <= 5; i++ {
		ts.Push(fmt.Sprintf("m%d", i))
	}
	got := ts.List()
	if len(got) != notify.Keep {
		t.Fatalf("expected %d toasts, got %d", notify.Keep, len(got))
	}
	for i, want := range []string{"m5", "m4", "m3"} {
		if got[i].Message != want {
			t.Fatalf("toast %d: got %q want %q", i, got[i].Message, want)
		}
	}

	ts.Clear()
	if len(ts.List()) != 0 {
		t.Fatalf("expected cleared list")
	}
}
