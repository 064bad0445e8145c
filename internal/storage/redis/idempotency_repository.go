// Package redis хранит ключи идемпотентности оформления заказа в Redis.
// Срок жизни ключа задаётся TTL самого Redis, поэтому отдельная очистка не нужна.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

const (
	defaultKeyPrefix = "quickart:idempotency:"
	defaultTTL       = 24 * time.Hour
	minTTL           = time.Millisecond
)

type storedRecord struct {
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IdempotencyRepository — реализация domain.IdempotencyRepository поверх Redis.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий. Пустой prefix заменяется значением по умолчанию.
func NewIdempotencyRepository(client goredis.UniversalClient, prefix string) *IdempotencyRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &IdempotencyRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}
	stored := storedRecord{
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.redisKey(key), payload, ttlUntil(now, ttlAt)).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("%w: redis setnx: %w", domain.ErrStorageUnavailable, err)
	}
	if created {
		return stored.toDomain(key), nil
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		// ключ успел истечь между SETNX и GET
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	stored, err := r.load(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return stored.toDomain(key), nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Ping проверяет доступность Redis (используется health-check'ом).
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	stored, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	stored.Status = string(status)
	stored.ResponseBody = append([]byte(nil), responseBody...)
	stored.HTTPStatus = httpStatus
	stored.UpdatedAt = r.now()

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	// XX + KEEPTTL: обновляем только живой ключ и не продлеваем его срок.
	err = r.client.SetArgs(ctx, r.redisKey(key), payload, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: redis set: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *IdempotencyRepository) load(ctx context.Context, key string) (storedRecord, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storedRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return storedRecord{}, fmt.Errorf("%w: redis get: %w", domain.ErrStorageUnavailable, err)
	}

	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return storedRecord{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	if !domain.IdempotencyStatus(stored.Status).Valid() {
		return storedRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", stored.Status, key)
	}
	return stored, nil
}

func (r *IdempotencyRepository) redisKey(key string) string {
	return r.prefix + key
}

func ttlUntil(now, ttlAt time.Time) time.Duration {
	ttl := ttlAt.Sub(now)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func (s storedRecord) toDomain(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  s.RequestHash,
		ResponseBody: append([]byte(nil), s.ResponseBody...),
		HTTPStatus:   s.HTTPStatus,
		Status:       domain.IdempotencyStatus(s.Status),
		TTLAt:        s.TTLAt.UTC(),
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
	}
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
