package wake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ocmt/relay/internal/relayauth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeAgent struct {
	status    relayauth.Status
	statusErr error
	wakeErr   error
	woken     []string
}

func (f *fakeAgent) Status(ctx context.Context, containerID string, timeout time.Duration) (relayauth.Status, error) {
	if f.statusErr != nil {
		return relayauth.StatusUnknown, f.statusErr
	}
	return f.status, nil
}

func (f *fakeAgent) Wake(ctx context.Context, containerID string, timeout time.Duration) error {
	if f.wakeErr != nil {
		return f.wakeErr
	}
	f.woken = append(f.woken, containerID)
	return nil
}

func TestMaybeWakeTriggersOnHibernated(t *testing.T) {
	a := &fakeAgent{status: relayauth.StatusHibernated}
	c := newCoordinator(a, time.Second, time.Second, testLogger())

	if !c.MaybeWake(context.Background(), "container-1") {
		t.Fatal("expected wake to be triggered for a hibernated container")
	}
	if len(a.woken) != 1 || a.woken[0] != "container-1" {
		t.Fatalf("expected exactly one wake call for container-1, got %v", a.woken)
	}
}

func TestMaybeWakeTriggersOnStopped(t *testing.T) {
	a := &fakeAgent{status: relayauth.StatusStopped}
	c := newCoordinator(a, time.Second, time.Second, testLogger())

	if !c.MaybeWake(context.Background(), "container-1") {
		t.Fatal("expected wake to be triggered for a stopped container")
	}
}

func TestMaybeWakeSkipsActiveContainer(t *testing.T) {
	a := &fakeAgent{status: relayauth.StatusActive}
	c := newCoordinator(a, time.Second, time.Second, testLogger())

	if c.MaybeWake(context.Background(), "container-1") {
		t.Fatal("expected no wake for an active container")
	}
	if len(a.woken) != 0 {
		t.Fatal("expected wake not to be called for an active container")
	}
}

func TestMaybeWakeNeverFailsOnStatusError(t *testing.T) {
	a := &fakeAgent{statusErr: errors.New("agent server unreachable")}
	c := newCoordinator(a, time.Second, time.Second, testLogger())

	if c.MaybeWake(context.Background(), "container-1") {
		t.Fatal("expected no wake reported when status check errors")
	}
}

func TestMaybeWakeNeverFailsOnWakeError(t *testing.T) {
	a := &fakeAgent{status: relayauth.StatusHibernated, wakeErr: errors.New("wake failed")}
	c := newCoordinator(a, time.Second, time.Second, testLogger())

	if c.MaybeWake(context.Background(), "container-1") {
		t.Fatal("expected no wake reported when the wake call errors")
	}
}
