package persister_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/persister"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/testutils"
	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

func start(t *testing.T, store *testutils.MockUserStore, reg *registry.Registry, delay time.Duration) (*persister.Persister, context.CancelFunc, chan struct{}) {
	t.Helper()
	p := persister.New(store, reg.Snapshot, delay, zap.NewNop())
	reg.OnChange(p.MarkDirty)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return p, cancel, done
}

func TestPersister_CoalescesBurst(t *testing.T) {
	store := testutils.NewMockUserStore()
	reg := registry.New([]string{"GOOG", "TSLA"}, zap.NewNop())
	_, cancel, done := start(t, store, reg, 50*time.Millisecond)
	defer func() { cancel(); <-done }()

	reg.Login("a@x.com")
	for i := 0; i < 20; i++ {
		reg.Subscribe("a@x.com", "GOOG")
		reg.Unsubscribe("a@x.com", "GOOG")
	}
	reg.Subscribe("a@x.com", "TSLA")

	if !store.WaitSave(time.Second) {
		t.Fatal("Expected a save")
	}
	// give a second timer a chance to fire if coalescing were broken
	time.Sleep(150 * time.Millisecond)

	if n := store.Saves(); n != 1 {
		t.Errorf("Expected 1 coalesced save, got %d", n)
	}
	want := []models.UserRecord{{Email: "a@x.com", Subscriptions: []string{"TSLA"}}}
	if got := store.Stored(); !reflect.DeepEqual(got, want) {
		t.Errorf("Stored %+v, want latest state %+v", got, want)
	}
}

func TestPersister_RetriesAfterFailure(t *testing.T) {
	store := testutils.NewMockUserStore()
	store.FailSaves = 1
	reg := registry.New([]string{"GOOG"}, zap.NewNop())
	_, cancel, done := start(t, store, reg, 20*time.Millisecond)
	defer func() { cancel(); <-done }()

	reg.Login("a@x.com")

	if !store.WaitSave(time.Second) || !store.WaitSave(time.Second) {
		t.Fatal("Expected a failed save followed by a retry")
	}
	if got := store.Stored(); len(got) != 1 || got[0].Email != "a@x.com" {
		t.Errorf("Retry should persist the state, got %+v", got)
	}
}

func TestPersister_FlushOnShutdown(t *testing.T) {
	store := testutils.NewMockUserStore()
	reg := registry.New([]string{"GOOG"}, zap.NewNop())
	_, cancel, done := start(t, store, reg, time.Hour)

	reg.Login("a@x.com")
	// let Run pick up the dirty signal and arm the long timer
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if store.Saves() != 1 {
		t.Fatalf("Expected final flush on shutdown, got %d saves", store.Saves())
	}
	if got := store.Stored(); len(got) != 1 {
		t.Errorf("Expected 1 stored user, got %+v", got)
	}
}

func TestPersister_IdleNoWrites(t *testing.T) {
	store := testutils.NewMockUserStore()
	reg := registry.New([]string{"GOOG"}, zap.NewNop())
	_, cancel, done := start(t, store, reg, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if store.Saves() != 0 {
		t.Errorf("No mutations should mean no writes, got %d", store.Saves())
	}
}
