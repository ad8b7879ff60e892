package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "")
}

func testSession(id, account string, now time.Time) *Session {
	return &Session{
		SessionID: id,
		AccountID: account,
		Role:      "superadmin",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := testSession("sid", "acc-1", time.Unix(1700000000, 0))
	in.TwoFactorVerified = true
	in.IPHash[3] = 9

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode("sid", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}

	if _, err := Decode("sid", data[:len(data)-1]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected truncated record to be corrupt, got %v", err)
	}
}

func TestStoreSaveGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	if err := store.Save(ctx, testSession("s1", "acc-1", now), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Get(ctx, "s1", now); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := store.Get(ctx, "s1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry at caller clock, got %v", err)
	}

	if err := store.Delete(ctx, "acc-1", "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "acc-1", "s1"); err != nil {
		t.Fatalf("second delete must be idempotent: %v", err)
	}
	if _, err := store.Get(ctx, "s1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted session, got %v", err)
	}
}

func TestStoreDeleteAllForAccountKeepsExceptions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, testSession(id, "acc-1", now), time.Hour); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := store.Save(ctx, testSession("other", "acc-2", now), time.Hour); err != nil {
		t.Fatalf("save other: %v", err)
	}

	removed, err := store.DeleteAllForAccount(ctx, "acc-1", "s2")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d, want 2", removed)
	}
	if _, err := store.Get(ctx, "s2", now); err != nil {
		t.Fatalf("kept session missing: %v", err)
	}
	if _, err := store.Get(ctx, "s1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected s1 revoked, got %v", err)
	}
	if _, err := store.Get(ctx, "other", now); err != nil {
		t.Fatalf("other account affected: %v", err)
	}
	if n, _ := store.CountForAccount(ctx, "acc-1"); n != 1 {
		t.Fatalf("index count %d, want 1", n)
	}
}
