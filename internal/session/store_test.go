package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func int64Ptr(v int64) *int64 { return &v }

func sampleRecord() *Record {
	return &Record{
		UserID:        7,
		Name:          "Ana",
		Email:         "ana@loja.com",
		Profile:       "gerente",
		Stores:        []StoreRef{{ID: 1, Name: "Loja A"}, {ID: 2, Name: "Loja B"}},
		ActiveStoreID: int64Ptr(1),
	}
}

func TestCreateAndGet(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb, 8*time.Hour)
	ctx := context.Background()

	record := sampleRecord()
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(record.Token) != 64 {
		t.Fatalf("unexpected token length: %d", len(record.Token))
	}
	if ttl := mr.TTL(sessionKey(record.Token)); ttl != 8*time.Hour {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	got, err := store.Get(ctx, record.Token)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Email != "ana@loja.com" || len(got.Stores) != 2 || *got.ActiveStoreID != 1 {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.Token != record.Token {
		t.Fatalf("token not restored: %q", got.Token)
	}
}

func TestCreateIssuesDistinctTokens(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	a, b := sampleRecord(), sampleRecord()
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if a.Token == b.Token {
		t.Fatal("expected distinct tokens")
	}
}

func TestGetUnknownAndMalformedToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	for _, token := range []string{"", "abc", "zz" + string(make([]byte, 62)), "00000000000000000000000000000000000000000000000000000000000000ff"} {
		if _, err := store.Get(ctx, token); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(%q) err = %v, want ErrNotFound", token, err)
		}
	}
}

func TestGetAfterExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb, 8*time.Hour)
	ctx := context.Background()

	record := sampleRecord()
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	mr.FastForward(8*time.Hour + time.Second)

	if _, err := store.Get(ctx, record.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestUpdateKeepsRemainingTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb, 8*time.Hour)
	ctx := context.Background()

	record := sampleRecord()
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	updated, err := store.Update(ctx, record.Token, func(r *Record) {
		r.ActiveStoreID = int64Ptr(2)
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if *updated.ActiveStoreID != 2 {
		t.Fatalf("unexpected active store: %d", *updated.ActiveStoreID)
	}
	if ttl := mr.TTL(sessionKey(record.Token)); ttl <= 0 || ttl > 8*time.Hour {
		t.Fatalf("unexpected ttl after update: %v", ttl)
	}

	got, err := store.Get(ctx, record.Token)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if *got.ActiveStoreID != 2 {
		t.Fatalf("update not persisted: %d", *got.ActiveStoreID)
	}
	if !got.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("expiry moved: %v -> %v", record.ExpiresAt, got.ExpiresAt)
	}
}

func TestUpdateMissingSession(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)

	token, _ := generateToken()
	_, err := store.Update(context.Background(), token, func(*Record) {})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentUpdatesLastWriteWins(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	record := sampleRecord()
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	var wg sync.WaitGroup
	for _, id := range []int64{1, 2, 1, 2} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = store.Update(ctx, record.Token, func(r *Record) {
				r.ActiveStoreID = int64Ptr(id)
			})
		}(id)
	}
	wg.Wait()

	got, err := store.Get(ctx, record.Token)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ActiveStoreID == nil || !got.HasStore(*got.ActiveStoreID) {
		t.Fatalf("active store must stay within grants: %#v", got.ActiveStoreID)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	record := sampleRecord()
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Delete(ctx, record.Token); err != nil {
			t.Fatalf("Delete #%d returned error: %v", i+1, err)
		}
	}
	if err := store.Delete(ctx, ""); err != nil {
		t.Fatalf("Delete of empty token returned error: %v", err)
	}
	if _, err := store.Get(ctx, record.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRecordActiveStore(t *testing.T) {
	record := sampleRecord()
	store, ok := record.ActiveStore()
	if !ok || store.Name != "Loja A" {
		t.Fatalf("unexpected active store: %#v ok=%v", store, ok)
	}

	record.ActiveStoreID = nil
	if _, ok := record.ActiveStore(); ok {
		t.Fatal("expected no active store")
	}
	if record.HasStore(3) {
		t.Fatal("store 3 is not granted")
	}
}
