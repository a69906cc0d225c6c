package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

func TestSessionStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()

	if err := s.Create(ctx, domain.NewSession("s1", "acme")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Get(ctx, "other", "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("cross-tenant Get = %v", err)
	}

	got, err := s.Update(ctx, "acme", "s1", func(sess *domain.Session) error {
		return sess.Select(domain.SelectedFile{Name: "a.wav", Size: 1, MediaType: "audio/wav"}, "")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.File == nil || got.File.Name != "a.wav" {
		t.Fatalf("update not applied: %+v", got)
	}

	// mutating the returned copy must not leak into the store
	got.File.Name = "mutated"
	again, _ := s.Get(ctx, "acme", "s1")
	if again.File.Name != "a.wav" {
		t.Fatalf("store shares memory with caller: %q", again.File.Name)
	}
}

func TestSessionStore_FailedUpdateIsNotCommitted(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	_ = s.Create(ctx, domain.NewSession("s1", "acme"))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "acme", "s1", func(sess *domain.Session) error {
		sess.Error = "half written"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update = %v", err)
	}
	got, _ := s.Get(ctx, "acme", "s1")
	if got.Error != "" {
		t.Fatalf("failed update was committed: %+v", got)
	}
}

func TestSessionStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	_ = s.Create(ctx, domain.NewSession("s1", "acme"))

	if err := s.Delete(ctx, "acme", "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "acme", "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("second Delete = %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestSessionStore_PruneSkipsBusy(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	old := time.Now().Add(-time.Hour)

	idle := domain.NewSession("idle", "acme")
	idle.UpdatedAt = old
	busy := domain.NewSession("busy", "acme")
	busy.UpdatedAt = old
	_ = busy.Select(domain.SelectedFile{Name: "a.wav", Size: 1, MediaType: "audio/wav"}, "")
	_, _ = busy.BeginUpload()
	fresh := domain.NewSession("fresh", "acme")
	fresh.UpdatedAt = time.Now()

	for _, sess := range []*domain.Session{idle, busy, fresh} {
		_ = s.Create(ctx, sess)
	}

	evicted := s.Prune(time.Now().Add(-30 * time.Minute))
	if len(evicted) != 1 || evicted[0].ID != "idle" {
		t.Fatalf("evicted = %+v", evicted)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestSessionStore_Janitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSessionStore()
	stale := domain.NewSession("stale", "acme")
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	_ = s.Create(ctx, stale)

	evicted := make(chan domain.SessionID, 1)
	s.StartJanitor(ctx, time.Minute, 10*time.Millisecond, func(sess *domain.Session) {
		evicted <- sess.ID
	})

	select {
	case id := <-evicted:
		if id != "stale" {
			t.Fatalf("evicted %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not evict the stale session")
	}
}
