package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/nfse-chat-service/internal/conversation"
	"github.com/facturaIA/nfse-chat-service/internal/invoice"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisBackend(client, 10*time.Second)
}

func TestRedisBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, backend := setupTestRedis(t)

	s := New("5511999990000", time.Hour, t0)
	s.AddUserMessage("CNPJ 11222333000181", t0)
	s.UpdateInvoice(invoice.New("11222333000181", "1500,00", "", ""), t0)
	require.NoError(t, s.TransitionTo(conversation.Incomplete, t0))

	require.NoError(t, backend.Put(ctx, s))
	assert.True(t, mr.Exists("nfse:session:5511999990000"))
	assert.Greater(t, mr.TTL("nfse:session:5511999990000"), time.Hour)

	loaded, err := backend.Load(ctx, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, conversation.Incomplete, loaded.State)
	assert.Equal(t, invoice.StatusValidated, loaded.Invoice.TaxID.Status)
	assert.Equal(t, "R$ 1.500,00", loaded.Invoice.Amount.Formatted)
	require.Len(t, loaded.Transcript, 1)

	phones, err := backend.Phones(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"5511999990000"}, phones)

	require.NoError(t, backend.Delete(ctx, "5511999990000"))
	_, err = backend.Load(ctx, "5511999990000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBackendRejectsCorruptState(t *testing.T) {
	ctx := context.Background()
	mr, backend := setupTestRedis(t)

	require.NoError(t, mr.Set("nfse:session:5511999990000", `{"session_id":"x","state":"aguardando"}`))
	_, err := backend.Load(ctx, "5511999990000")
	assert.Error(t, err)
}

func TestRedisBackendLock(t *testing.T) {
	ctx := context.Background()
	mr, backend := setupTestRedis(t)

	unlock, err := backend.Lock(ctx, "5511999990000")
	require.NoError(t, err)
	assert.True(t, mr.Exists("nfse:lock:5511999990000"))

	shortCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_, err = backend.Lock(shortCtx, "5511999990000")
	assert.ErrorIs(t, err, ErrLockTimeout)

	other, err := backend.Lock(ctx, "5511888880000")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists("nfse:lock:5511999990000"))
}

func TestRedisBackendLockOutlivesItsTTL(t *testing.T) {
	ctx := context.Background()
	mr, backend := setupTestRedis(t)
	backend.renewEvery = 20 * time.Millisecond
	key := "nfse:lock:5511999990000"

	unlock, err := backend.Lock(ctx, "5511999990000")
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	assert.Eventually(t, func() bool {
		return mr.TTL(key) > 5*time.Second
	}, time.Second, 10*time.Millisecond)

	// past the original ttl while the turn is still running
	mr.FastForward(8 * time.Second)
	require.True(t, mr.Exists(key))

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = backend.Lock(shortCtx, "5511999990000")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists(key))

	next, err := backend.Lock(ctx, "5511999990000")
	require.NoError(t, err)
	next()
}

func TestRedisBackendStopsRenewingALostLock(t *testing.T) {
	ctx := context.Background()
	mr, backend := setupTestRedis(t)
	backend.renewEvery = 20 * time.Millisecond
	key := "nfse:lock:5511999990000"

	unlock, err := backend.Lock(ctx, "5511999990000")
	require.NoError(t, err)

	require.NoError(t, mr.Set(key, "someone-else"))
	mr.SetTTL(key, 3*time.Second)
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, mr.TTL(key), 3*time.Second)

	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisBackendLogsFailedRelease(t *testing.T) {
	_, backend := setupTestRedis(t)
	var buf bytes.Buffer
	backend.log = zerolog.New(&buf)

	unlock, err := backend.Lock(context.Background(), "5511999990000")
	require.NoError(t, err)

	require.NoError(t, backend.client.Close())
	unlock()
	assert.Contains(t, buf.String(), "failed to release session lock")
}

func TestRedisBackendUnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	mr, backend := setupTestRedis(t)

	unlock, err := backend.Lock(ctx, "5511999990000")
	require.NoError(t, err)

	// lock expired and was taken by another instance
	require.NoError(t, mr.Set("nfse:lock:5511999990000", "someone-else"))
	unlock()

	got, err := mr.Get("nfse:lock:5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestStoreOverRedis(t *testing.T) {
	ctx := context.Background()
	_, backend := setupTestRedis(t)
	clock := &fakeClock{now: t0}
	store := NewStore(backend, time.Hour, WithClock(clock.Now))

	s, created, err := store.GetOrCreate(ctx, "5511999990000")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, store.Save(ctx, s, ReasonNone))

	clock.Advance(2 * time.Hour)
	fresh, created, err := store.GetOrCreate(ctx, "5511999990000")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, s.ID, fresh.ID)
}
