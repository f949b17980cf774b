package session

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(NewRedisStorage(rdb), "af:test")
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testSession(now time.Time) Session {
	return Session{
		ID:          "sid-1",
		UserID:      "u-1",
		Email:       "u1@example.com",
		Role:        "player",
		DisplayName: "Ace",
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestSetSessionRoundTripKeepsCredentialOutOfSession(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	in := testSession(now)
	if err := store.SetSession(ctx, in); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if err := store.SetAccessToken("secret-token"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	got := store.Session()
	if got == nil {
		t.Fatal("expected session")
	}
	if got.UserID != in.UserID || got.Role != in.Role || !got.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("session mismatch: got %+v want %+v", got, in)
	}
	if store.AccessToken() != "secret-token" {
		t.Fatalf("expected credential via AccessToken, got %q", store.AccessToken())
	}
	if reflect.ValueOf(*got).FieldByName("AccessToken").IsValid() {
		t.Fatal("session must not expose a credential field")
	}

	for _, key := range mr.Keys() {
		raw, err := mr.Get(key)
		if err != nil {
			continue
		}
		if contains(raw, "secret-token") {
			t.Fatalf("credential leaked into durable key %q", key)
		}
	}
}

func TestSetAccessTokenRequiresSession(t *testing.T) {
	store := NewStore(nil, "")
	if err := store.SetAccessToken("tok"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if store.AccessToken() != "" {
		t.Fatal("token must stay empty without a session")
	}
}

func TestSetSessionForDifferentUserDropsCredential(t *testing.T) {
	store := NewStore(nil, "")
	ctx := context.Background()
	now := time.Now()

	if err := store.SetSession(ctx, testSession(now)); err != nil {
		t.Fatalf("set session: %v", err)
	}
	_ = store.SetAccessToken("tok-a")

	other := testSession(now)
	other.UserID = "u-2"
	if err := store.SetSession(ctx, other); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if store.AccessToken() != "" {
		t.Fatal("credential of previous user must not survive a user switch")
	}
}

func TestClearSessionRemovesEveryDurableKey(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession(time.Now())); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if err := store.UpdateLastActive(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("update last active: %v", err)
	}
	if err := store.RememberRoute(ctx, "/dashboard/finance"); err != nil {
		t.Fatalf("remember route: %v", err)
	}
	if n := len(mr.Keys()); n != 3 {
		t.Fatalf("expected 3 durable keys, got %d (%v)", n, mr.Keys())
	}

	if err := store.ClearSession(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no residue, got %v", keys)
	}
	if store.Session() != nil || store.AccessToken() != "" {
		t.Fatal("memory must be cleared")
	}
}

func TestLoadRestoresProvisionalSessionWithoutCredential(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	first := NewStore(storage, "af")
	if err := first.SetSession(ctx, testSession(now)); err != nil {
		t.Fatalf("set session: %v", err)
	}
	_ = first.SetAccessToken("tok")
	if err := first.UpdateLastActive(ctx, now.Add(5*time.Second)); err != nil {
		t.Fatalf("update last active: %v", err)
	}

	restarted := NewStore(storage, "af")
	got, err := restarted.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || !got.Provisional {
		t.Fatalf("expected provisional session, got %+v", got)
	}
	if got.UserID != "u-1" || got.Role != "player" {
		t.Fatalf("unexpected restored identity %+v", got)
	}
	if got.LastActiveAt.UnixMilli() != now.Add(5*time.Second).UnixMilli() {
		t.Fatalf("expected last active from its own key, got %v", got.LastActiveAt)
	}
	if restarted.AccessToken() != "" {
		t.Fatal("credential must not survive a restart")
	}
	if restarted.Authenticated() {
		t.Fatal("provisional session is not authenticated")
	}
}

func TestLoadExpiredRecordDeletesMetadata(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}

	first := NewStore(storage, "af", WithClock(clock.Now))
	if err := first.SetSession(ctx, testSession(clock.Now())); err != nil {
		t.Fatalf("set session: %v", err)
	}
	_ = first.RememberRoute(ctx, "/attendance")

	clock.Advance(2 * time.Hour)
	restarted := NewStore(storage, "af", WithClock(clock.Now))
	got, err := restarted.Load(ctx)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected no session, got %+v", got)
	}
	if keys := storage.Keys(); len(keys) != 0 {
		sort.Strings(keys)
		t.Fatalf("expected metadata removed, got %v", keys)
	}
}

func TestLoadCorruptRecordIsCleared(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	_ = storage.Set(ctx, "af:session", []byte{9, 9, 9}, 0)

	store := NewStore(storage, "af")
	if _, err := store.Load(ctx); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected ErrRecordCorrupt, got %v", err)
	}
	if len(storage.Keys()) != 0 {
		t.Fatalf("expected corrupt record removed, got %v", storage.Keys())
	}
}

func TestLoadWithNothingStored(t *testing.T) {
	store := NewStore(nil, "")
	got, err := store.Load(context.Background())
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", got, err)
	}
}

func TestIsInactiveAndExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewStore(nil, "", WithClock(clock.Now))
	ctx := context.Background()

	if store.IsInactive(time.Minute) {
		t.Fatal("no session must not count as inactive")
	}
	if !store.IsTokenExpired() {
		t.Fatal("no session counts as expired")
	}

	if err := store.SetSession(ctx, testSession(clock.Now())); err != nil {
		t.Fatalf("set session: %v", err)
	}
	clock.Advance(59 * time.Second)
	if store.IsInactive(time.Minute) {
		t.Fatal("not yet inactive")
	}
	clock.Advance(2 * time.Second)
	if !store.IsInactive(time.Minute) {
		t.Fatal("expected inactive after window")
	}
	if err := store.UpdateLastActive(ctx, clock.Now()); err != nil {
		t.Fatalf("update last active: %v", err)
	}
	if store.IsInactive(time.Minute) {
		t.Fatal("activity must reset inactivity")
	}

	clock.Advance(time.Hour)
	if !store.IsTokenExpired() {
		t.Fatal("expected expired credential window")
	}
}

func TestUpdateSessionPersistsPatch(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	store := NewStore(storage, "af")

	if err := store.UpdateSession(ctx, Patch{}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	now := time.Now()
	if err := store.SetSession(ctx, testSession(now)); err != nil {
		t.Fatalf("set session: %v", err)
	}
	accepted := true
	role := "coach"
	exp := now.Add(3 * time.Hour)
	if err := store.UpdateSession(ctx, Patch{AgreementAccepted: &accepted, Role: &role, ExpiresAt: &exp}); err != nil {
		t.Fatalf("update: %v", err)
	}

	restarted := NewStore(storage, "af")
	got, err := restarted.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.AgreementAccepted || got.Role != "coach" || got.ExpiresAt.UnixMilli() != exp.UnixMilli() {
		t.Fatalf("patch not persisted: %+v", got)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestPutWritesNothingUntilSync(t *testing.T) {
	storage := NewMemoryStorage()
	store := NewStore(storage, "af")
	ctx := context.Background()

	if err := store.Put(testSession(time.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}
	if store.Session() == nil {
		t.Fatal("put must update memory")
	}
	if keys := storage.Keys(); len(keys) != 0 {
		t.Fatalf("put must not touch storage, got %v", keys)
	}

	if err := store.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := storage.Get(ctx, "af:session"); err != nil {
		t.Fatalf("session record missing after sync: %v", err)
	}

	store.Drop()
	if err := store.Sync(ctx); err != nil {
		t.Fatalf("sync after drop: %v", err)
	}
	if keys := storage.Keys(); len(keys) != 0 {
		t.Fatalf("expected no residue, got %v", keys)
	}
}

func TestSyncAfterUserSwitchDropsPreviousRoute(t *testing.T) {
	storage := NewMemoryStorage()
	store := NewStore(storage, "af")
	ctx := context.Background()
	now := time.Now()

	if err := store.SetSession(ctx, testSession(now)); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if err := store.RememberRoute(ctx, "/scrims"); err != nil {
		t.Fatalf("remember route: %v", err)
	}

	// Same user again keeps the route.
	if err := store.SetSession(ctx, testSession(now)); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if got, _ := store.RememberedRoute(ctx); got != "/scrims" {
		t.Fatalf("route for the same user: got %q", got)
	}

	other := testSession(now)
	other.UserID = "u-2"
	if err := store.Put(other); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got, _ := store.RememberedRoute(ctx); got != "" {
		t.Fatalf("previous user's route survived a user switch: %q", got)
	}

	restarted := NewStore(storage, "af")
	got, err := restarted.Load(ctx)
	if err != nil || got == nil || got.UserID != "u-2" {
		t.Fatalf("load after switch: %+v, %v", got, err)
	}
}

func TestRememberRouteWithoutSession(t *testing.T) {
	storage := NewMemoryStorage()
	store := NewStore(storage, "af")

	if err := store.RememberRoute(context.Background(), "/roster"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if keys := storage.Keys(); len(keys) != 0 {
		t.Fatalf("route written without a session: %v", keys)
	}
}

type failingStorage struct {
	*MemoryStorage
	fail bool
}

func (f *failingStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail {
		return errors.New("storage down")
	}
	return f.MemoryStorage.Set(ctx, key, value, ttl)
}

func TestSyncRetriesAfterFailure(t *testing.T) {
	storage := &failingStorage{MemoryStorage: NewMemoryStorage(), fail: true}
	store := NewStore(storage, "af")
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession(time.Now())); err == nil {
		t.Fatal("expected write error")
	}
	if store.Session() == nil {
		t.Fatal("memory must hold the session even when storage fails")
	}

	storage.fail = false
	if err := store.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := storage.Get(ctx, "af:session"); err != nil {
		t.Fatalf("failed write was not retried: %v", err)
	}
}
