package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository хранит ключи идемпотентного оформления в памяти процесса.
// Просроченная запись сразу считается отсутствующей; память освобождает
// DeleteExpired, который вызывает воркер очистки.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// IdempotencyOption настраивает IdempotencyRepository.
type IdempotencyOption func(*IdempotencyRepository)

// WithIdempotencyClock подменяет часы; используется в тестах истечения.
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(r *IdempotencyRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewIdempotencyRepository(opts ...IdempotencyOption) *IdempotencyRepository {
	r := &IdempotencyRepository{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if current, ok := r.live(key, now); ok {
		if current.RequestHash != requestHash {
			return clone(current), domain.ErrIdempotencyHashMismatch
		}
		return clone(current), domain.ErrIdempotencyKeyAlreadyExists
	}

	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return clone(record), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.live(key, r.now())
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return clone(record), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}

// DeleteExpired удаляет до limit записей с TTL не позже before, самые старые первыми.
// limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].TTLAt.Equal(expired[j].TTLAt) {
			return expired[i].TTLAt.Before(expired[j].TTLAt)
		}
		return expired[i].Key < expired[j].Key
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	keys := make([]string, 0, len(expired))
	for _, record := range expired {
		delete(r.records, record.Key)
		keys = append(keys, record.Key)
	}
	return keys, nil
}

// Len возвращает число хранимых записей, включая ещё не удалённые просроченные.
func (r *IdempotencyRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	record, ok := r.live(key, now)
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = now
	r.records[key] = record
	return nil
}

// live возвращает запись, только если она ещё не истекла. Вызывается под mu.
func (r *IdempotencyRepository) live(key string, now time.Time) (domain.IdempotencyRecord, bool) {
	record, ok := r.records[key]
	if !ok || record.Expired(now) {
		return domain.IdempotencyRecord{}, false
	}
	return record, true
}

func clone(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	record.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return record
}

var (
	_ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
	_ domain.IdempotencySweeper    = (*IdempotencyRepository)(nil)
)
