package waiterreg

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/outpostdb/outpost/internal/domain"
)

func TestRegisterNotifyRoundTrip(t *testing.T) {
	r := New()
	w, err := r.Register("0123456789abcdef")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := domain.DatabaseInfo{Host: "h--1.db", Port: 5432, DBName: "d", User: "u"}
	if !r.Notify("0123456789abcdef", want) {
		t.Fatalf("Notify returned false for a registered id")
	}

	got, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Wait() = %+v, want %+v", got, want)
	}
}

func TestRegisterCollision(t *testing.T) {
	r := New()
	if _, err := r.Register("dupe"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := r.Register("dupe"); err != ErrCollision {
		t.Fatalf("second Register err = %v, want ErrCollision", err)
	}
}

func TestNotifyUnknownID(t *testing.T) {
	r := New()
	if r.Notify("ghost", domain.DatabaseInfo{}) {
		t.Fatalf("Notify on unregistered id returned true")
	}
}

func TestWaitTimeout(t *testing.T) {
	r := New()
	w, err := r.Register("timesout")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := w.Wait(ctx); err == nil {
		t.Fatalf("Wait did not time out")
	}

	// slot must be gone: a late Notify should find nothing to deliver to.
	if r.Notify("timesout", domain.DatabaseInfo{}) {
		t.Fatalf("slot for a timed-out waiter was still registered")
	}
}

func TestRegisterAfterCancelSucceeds(t *testing.T) {
	r := New()
	w, err := r.Register("reuse-me")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait() err = %v, want ErrCancelled", err)
	}

	if _, err := r.Register("reuse-me"); err != nil {
		t.Fatalf("re-Register after cancellation: %v", err)
	}
}
