// internal/state/session_test.go
package state

import (
	"context"
	"testing"
	"time"

	"github.com/user/agentrelay/internal/types"
)

func TestSessionStore(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	// No session yet
	sess, err := store.Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Fatalf("expected no session, got %+v", sess)
	}

	// Update and read back
	update := &types.Session{
		SessionID:     "s1",
		Origin:        types.NewOrigin("telegram", "1", "2"),
		LastRequestID: "r1",
		LastSource:    types.SourceUserText,
	}
	if err := store.Update(ctx, update); err != nil {
		t.Fatal(err)
	}
	sess, err = store.Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil || sess.SessionID != "s1" {
		t.Fatalf("expected session s1, got %+v", sess)
	}
	if sess.LastActivity.IsZero() {
		t.Error("expected last activity to be stamped")
	}

	// Callers get a copy
	sess.SessionID = "mutated"
	again, _ := store.Current(ctx)
	if again.SessionID != "s1" {
		t.Errorf("store leaked its session: %s", again.SessionID)
	}
}

func TestSessionStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	if err := NewSessionStore(dir).Update(ctx, &types.Session{SessionID: "s2", Origin: "telegram:9:9", LastActivity: at}); err != nil {
		t.Fatal(err)
	}

	sess, err := NewSessionStore(dir).Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil || sess.SessionID != "s2" || sess.Origin != "telegram:9:9" {
		t.Fatalf("unexpected session after reopen: %+v", sess)
	}
	if !sess.LastActivity.Equal(at) {
		t.Errorf("expected last activity %v, got %v", at, sess.LastActivity)
	}
}

func TestSessionStoreClear(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	had, err := store.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if had {
		t.Error("expected nothing to clear")
	}

	if err := store.Update(ctx, &types.Session{SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	had, err = store.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !had {
		t.Error("expected a session to be cleared")
	}

	sess, err := NewSessionStore(dir).Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Errorf("expected cleared session to stay cleared, got %+v", sess)
	}
}

func TestSessionStoreRejectsEmpty(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	if err := store.Update(context.Background(), &types.Session{}); err == nil {
		t.Error("expected error for empty session id")
	}
}
