package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/schmitech/orbit/core"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	m := NewInMemoryStore()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v" {
		t.Errorf("Get: %q", got)
	}
	exists, err := m.Exists(ctx, "k")
	if err != nil || !exists {
		t.Errorf("Exists: %v %v", exists, err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Get(ctx, "k"); got != "" {
		t.Errorf("Deleted key must read empty: %q", got)
	}
}

func TestInMemoryStoreExpiry(t *testing.T) {
	m := NewInMemoryStore()
	base := time.Now()
	m.now = func() time.Time { return base }
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	if got, _ := m.Get(ctx, "k"); got != "" {
		t.Errorf("Expired key must read empty: %q", got)
	}
	if exists, _ := m.Exists(ctx, "k"); exists {
		t.Error("Expired key must not exist")
	}
}

func TestRedisMemoryRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := core.NewRedisClient(core.RedisClientOptions{RedisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	m := NewRedisMemory(client, time.Hour)
	ctx := context.Background()

	if got, err := m.Get(ctx, "missing"); err != nil || got != "" {
		t.Errorf("Missing key must read empty without error: %q %v", got, err)
	}
	if err := m.Set(ctx, "session", "history", time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "session")
	if err != nil || got != "history" {
		t.Errorf("Get: %q %v", got, err)
	}
	exists, err := m.Exists(ctx, "session")
	if err != nil || !exists {
		t.Errorf("Exists: %v %v", exists, err)
	}
	if err := m.Delete(ctx, "session"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := m.Exists(ctx, "session"); exists {
		t.Error("Deleted key must not exist")
	}
}
