package chat

import (
	"testing"
	"time"

	"github.com/Golenspade/terre-agent/gateway"
)

func TestMemoryStore_GetOrCreate(t *testing.T) {
	s := NewMemoryStore(0)

	a := s.GetOrCreate("")
	if a.ID == "" {
		t.Fatal("GetOrCreate(\"\") returned empty id")
	}
	b := s.GetOrCreate(a.ID)
	if a != b {
		t.Error("GetOrCreate(id) returned a different session")
	}
	c := s.GetOrCreate("")
	if c.ID == a.ID {
		t.Error("two empty-id creates shared an id")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestMemoryStore_TTLEviction(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	stale := s.GetOrCreate("")
	now = now.Add(30 * time.Second)
	fresh := s.GetOrCreate("")

	// The stale session ages past the TTL; the next access sweeps it.
	now = now.Add(45 * time.Second)
	s.GetOrCreate(fresh.ID)

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after sweep", s.Len())
	}
	revived := s.GetOrCreate(stale.ID)
	if revived == stale {
		t.Error("evicted session was returned again, want a fresh one")
	}
}

func TestSession_RepinAndTrim(t *testing.T) {
	sess := &Session{ID: "s"}
	for i := 0; i < 6; i++ {
		sess.append(
			gateway.Message{Role: "user", Content: "u"},
			gateway.Message{Role: "assistant", Content: "a"},
		)
	}
	sess.repin("prompt", 4)

	w := sess.window()
	if len(w) != 4 {
		t.Fatalf("len(window) = %d, want 4", len(w))
	}
	if w[0].Role != "system" || w[0].Content != "prompt" {
		t.Errorf("window[0] = %+v, want pinned system prompt", w[0])
	}
	// The most recent non-system entries survive.
	if w[len(w)-1].Role != "assistant" {
		t.Errorf("window tail role = %q, want assistant", w[len(w)-1].Role)
	}
}

func TestSession_RepinReplacesStaleSystem(t *testing.T) {
	sess := &Session{ID: "s"}
	sess.append(
		gateway.Message{Role: "system", Content: "old"},
		gateway.Message{Role: "user", Content: "u"},
	)
	sess.repin("new", 12)

	w := sess.window()
	if len(w) != 2 {
		t.Fatalf("len(window) = %d, want 2", len(w))
	}
	if w[0].Content != "new" {
		t.Errorf("window[0].Content = %q, want replaced prompt", w[0].Content)
	}
}

func TestSession_WindowIsACopy(t *testing.T) {
	sess := &Session{ID: "s"}
	sess.append(gateway.Message{Role: "user", Content: "u"})

	w := sess.window()
	w[0].Content = "mutated"
	if sess.messages[0].Content != "u" {
		t.Error("window() aliases session history")
	}
}
