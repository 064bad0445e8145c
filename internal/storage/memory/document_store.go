package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/storage/txguard"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 2 * time.Millisecond
	// absentVersion фиксирует в read-set, что документа не было на момент чтения.
	absentVersion int64 = -1
)

// Store — in-memory документное хранилище с оптимистичными транзакциями.
// Каждая попытка транзакции запоминает версии прочитанных документов и
// буферизует записи; коммит под общим локом проверяет, что версии не изменились.
type Store struct {
	mu     sync.RWMutex
	items  map[string]domain.Item
	orders map[string]domain.Order

	maxAttempts  int
	retryBackoff time.Duration
	now          func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithMaxAttempts задаёт число попыток транзакции при конфликтах.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff задаёт базовую паузу между попытками.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore(opts ...Option) *Store {
	s := &Store{
		items:        make(map[string]domain.Item),
		orders:       make(map[string]domain.Order),
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTransaction выполняет fn, повторяя попытку, если прочитанные документы
// изменились до коммита. Ошибка fn возвращается как есть, если её причина не
// устаревшее чтение.
func (s *Store) RunTransaction(ctx context.Context, fn domain.TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := newTransaction(s)
		err := fn(ctx, txguard.Wrap(tx))
		if err != nil {
			if s.readSetCurrent(tx) {
				return err
			}
			lastErr = err
		} else {
			err = s.commit(tx)
			if err == nil {
				return nil
			}
			if !errors.Is(err, domain.ErrTxConflict) {
				return err
			}
			lastErr = err
		}

		if err := s.sleep(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", domain.ErrTxConflict, s.maxAttempts, lastErr)
}

// GetItem возвращает товар вне транзакции.
func (s *Store) GetItem(_ context.Context, id string) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.Item{}, &domain.ItemNotFoundError{ItemID: id}
	}
	return item.Clone(), nil
}

// PutItem создаёт или перезаписывает товар, увеличивая версию.
func (s *Store) PutItem(_ context.Context, item domain.Item) (domain.Item, error) {
	if strings.TrimSpace(item.ID) == "" {
		return domain.Item{}, domain.ErrItemIDRequired
	}
	if item.Stock < 0 {
		return domain.Item{}, domain.ErrNegativeStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := item.Clone()
	stored.Version = s.items[item.ID].Version + 1
	stored.UpdatedAt = s.now()
	s.items[item.ID] = stored
	return stored.Clone(), nil
}

// ListItems возвращает товары, отсортированные по названию.
func (s *Store) ListItems(_ context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if filter.StoreID != "" && item.StoreID != filter.StoreID {
			continue
		}
		result = append(result, item.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// GetOrder возвращает заказ или ErrOrderNotFound, если его нет.
func (s *Store) GetOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if !filter.Matches(order) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Ping всегда успешен: хранилище в памяти процесса.
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) readSetCurrent(tx *transaction) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateLocked(tx) == nil
}

func (s *Store) validateLocked(tx *transaction) error {
	for id, version := range tx.itemReads {
		if s.itemVersionLocked(id) != version {
			return fmt.Errorf("%w: item %s changed", domain.ErrTxConflict, id)
		}
	}
	for id, version := range tx.orderReads {
		if s.orderVersionLocked(id) != version {
			return fmt.Errorf("%w: order %s changed", domain.ErrTxConflict, id)
		}
	}
	return nil
}

func (s *Store) commit(tx *transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateLocked(tx); err != nil {
		return err
	}

	// Сначала проверяем все записи, затем применяем: коммит либо целиком, либо никак.
	for _, write := range tx.itemWrites {
		if _, ok := s.items[write.id]; !ok {
			return &domain.ItemNotFoundError{ItemID: write.id}
		}
	}
	for _, order := range tx.orderCreates {
		if _, exists := s.orders[order.ID]; exists {
			return fmt.Errorf("%w: order %s already exists", domain.ErrOrderVersionConflict, order.ID)
		}
	}
	for _, order := range tx.orderUpdates {
		current, ok := s.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return fmt.Errorf("%w: order %s", domain.ErrTxConflict, order.ID)
		}
	}

	now := s.now()
	for _, write := range tx.itemWrites {
		item := s.items[write.id]
		item.Stock = write.stock
		item.Version++
		item.UpdatedAt = now
		s.items[write.id] = item
	}
	for _, order := range tx.orderCreates {
		order.Version = 1
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now
		s.orders[order.ID] = order
	}
	for _, order := range tx.orderUpdates {
		order.Version++
		order.UpdatedAt = now
		s.orders[order.ID] = order
	}
	return nil
}

func (s *Store) itemVersionLocked(id string) int64 {
	if item, ok := s.items[id]; ok {
		return item.Version
	}
	return absentVersion
}

func (s *Store) orderVersionLocked(id string) int64 {
	if order, ok := s.orders[id]; ok {
		return order.Version
	}
	return absentVersion
}

func (s *Store) sleep(ctx context.Context, attempt int) error {
	if s.retryBackoff <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(attempt) * s.retryBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.DocumentStore = (*Store)(nil)
