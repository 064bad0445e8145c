package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

func newTestRepository(t *testing.T) (*IdempotencyRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewIdempotencyRepository(client, ""), mr
}

func TestIdempotencyRepository_CreateProcessingAndGet(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	record, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
	assert.True(t, mr.Exists(defaultKeyPrefix+"key-1"))
	assert.Greater(t, mr.TTL(defaultKeyPrefix+"key-1"), 59*time.Minute)

	got, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.Key)
	assert.Equal(t, "hash-1", got.RequestHash)
	assert.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
}

func TestIdempotencyRepository_CreateProcessingConflicts(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	ttlAt := time.Now().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttlAt)
	require.NoError(t, err)

	existing, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttlAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, "hash-1", existing.RequestHash)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", ttlAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, " ", "hash", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = repo.CreateProcessing(ctx, "key", "", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	_, err = repo.Get(ctx, "")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	require.ErrorIs(t, repo.MarkDone(ctx, "", nil, 0), domain.ErrIdempotencyKeyRequired)
}

func TestIdempotencyRepository_MarkDoneKeepsTTL(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	require.NoError(t, repo.MarkDone(ctx, "key-1", []byte(`{"order_id":"o-1"}`), 201))

	got, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
	assert.Equal(t, 201, got.HTTPStatus)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(got.ResponseBody))
	assert.Greater(t, mr.TTL(defaultKeyPrefix+"key-1"), time.Duration(0))
	assert.LessOrEqual(t, mr.TTL(defaultKeyPrefix+"key-1"), 10*time.Minute)

	require.NoError(t, repo.MarkFailed(ctx, "key-1", []byte(`{"error":"x"}`), 409))
	got, err = repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, got.Status)
}

func TestIdempotencyRepository_MarkMissingKey(t *testing.T) {
	repo, _ := newTestRepository(t)

	err := repo.MarkDone(context.Background(), "missing", nil, 200)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ExpiredKeyIsReusable(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Now().Add(time.Second))
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = repo.Get(ctx, "key-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Redis истекает ключи сам, воркер очистки для него не запускается.
	var store domain.IdempotencyRepository = repo
	_, sweeps := store.(domain.IdempotencySweeper)
	assert.False(t, sweeps)
}

func TestIdempotencyRepository_Release(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "grpc:key-1", "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, "grpc:key-1"))
	assert.False(t, mr.Exists(defaultKeyPrefix+"grpc:key-1"))

	// повторное снятие отсутствующего ключа не ошибка
	require.NoError(t, repo.Release(ctx, "grpc:key-1"))
	require.ErrorIs(t, repo.Release(ctx, " "), domain.ErrIdempotencyKeyRequired)

	_, err = repo.CreateProcessing(ctx, "grpc:key-1", "hash-2", time.Now().Add(time.Hour))
	require.NoError(t, err)
}

func TestIdempotencyRepository_StorageUnavailable(t *testing.T) {
	repo, mr := newTestRepository(t)
	mr.Close()

	_, err := repo.CreateProcessing(context.Background(), "key-1", "hash-1", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.ErrorIs(t, repo.Ping(context.Background()), domain.ErrStorageUnavailable)
}

func TestTTLUntil(t *testing.T) {
	now := time.Now()
	assert.Equal(t, minTTL, ttlUntil(now, now.Add(-time.Minute)))
	assert.Equal(t, time.Minute, ttlUntil(now, now.Add(time.Minute)))
}
