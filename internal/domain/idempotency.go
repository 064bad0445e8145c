package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// IdempotencyScope разделяет пространства ключей транспортов: один и тот же
// idempotency-key, пришедший по gRPC и по HTTP, хранится двумя записями.
type IdempotencyScope string

const (
	IdempotencyScopeGRPC    IdempotencyScope = "grpc"
	IdempotencyScopeHTTP    IdempotencyScope = "http"
	IdempotencyScopeUnknown IdempotencyScope = "unknown"
)

const idempotencyScopeSeparator = ":"

// ScopedIdempotencyKey возвращает ключ хранилища для ключа клиента.
func ScopedIdempotencyKey(scope IdempotencyScope, key string) string {
	return string(scope) + idempotencyScopeSeparator + strings.TrimSpace(key)
}

// IdempotencyKeyScope восстанавливает транспорт по ключу хранилища.
func IdempotencyKeyScope(storedKey string) IdempotencyScope {
	prefix, _, ok := strings.Cut(storedKey, idempotencyScopeSeparator)
	if !ok {
		return IdempotencyScopeUnknown
	}
	switch scope := IdempotencyScope(prefix); scope {
	case IdempotencyScopeGRPC, IdempotencyScopeHTTP:
		return scope
	default:
		return IdempotencyScopeUnknown
	}
}

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что оформление принято и ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что заказ создан и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что оформление завершилось бизнес-ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит результат оформления заказа по idempotency-key,
// чтобы повтор запроса не списал сток второй раз.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Completed — ответ сохранён и может быть отдан повторно.
func (s IdempotencyStatus) Completed() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// Expired сообщает, что запись пора удалить.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// HashRequest возвращает sha256 тела запроса в hex.
func HashRequest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
