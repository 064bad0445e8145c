// Package checkout оформляет заказ одной транзакцией документного хранилища:
// проверяет остатки всех позиций, списывает сток и создаёт заказ.
package checkout

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
	"github.com/vladislavdragonenkov/quickart/internal/service/orderevents"
)

const (
	otpMin = 1000
	otpMax = 9999
)

// PlaceOrderRequest — вход оформления заказа.
type PlaceOrderRequest struct {
	Lines           []domain.CartLine
	TotalMinor      int64
	DeliveryAddress string
	Phone           string
	// Requester == nil означает гостевой заказ.
	Requester *domain.Requester
}

// Manager выполняет транзакцию оформления заказа.
type Manager struct {
	store   domain.DocumentStore
	events  *orderevents.Recorder
	metrics *metrics.StorefrontMetrics
	logger  *log.Entry
	newID   func() string
	newOTP  func() (string, error)
	now     func() time.Time
}

// Option настраивает Manager.
type Option func(*Manager)

// WithEvents подключает запись таймлайна и outbox после коммита.
func WithEvents(recorder *orderevents.Recorder) Option {
	return func(m *Manager) {
		m.events = recorder
	}
}

// WithMetrics подключает метрики оформления.
func WithMetrics(sm *metrics.StorefrontMetrics) Option {
	return func(m *Manager) {
		m.metrics = sm
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithOTPGenerator подменяет генератор кода подтверждения доставки.
func WithOTPGenerator(fn func() (string, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newOTP = fn
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager создаёт Manager поверх явно переданного хранилища.
// Без хранилища PlaceOrder возвращает domain.ErrStorageUnavailable.
func NewManager(store domain.DocumentStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: log.New().WithField("component", "checkout"),
		newID:  uuid.NewString,
		newOTP: GenerateOTP,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateOTP возвращает равномерно распределённый код из диапазона [1000, 9999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}

type demand struct {
	itemID   string
	name     string
	quantity int
}

// PlaceOrder атомарно проверяет остатки всех позиций и, если их хватает,
// списывает сток и создаёт заказ в статусе placed. Возвращает id заказа.
func (m *Manager) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	if m == nil || m.store == nil {
		return "", domain.ErrStorageUnavailable
	}

	start := time.Now()
	m.metrics.CheckoutStarted()
	defer func() {
		m.metrics.CheckoutFinished()
		m.metrics.RecordPlacementDuration(time.Since(start))
	}()

	demands, err := validate(req)
	if err != nil {
		m.recordFailure(err)
		return "", err
	}

	attempts := 0
	var placed domain.Order
	err = m.store.RunTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		attempts++

		// Фаза чтения: все документы читаются до первой записи.
		items := make([]domain.Item, len(demands))
		for i, d := range demands {
			item, err := tx.GetItem(ctx, d.itemID)
			if err != nil {
				if errors.Is(err, domain.ErrItemNotFound) {
					return &domain.ItemNotFoundError{ItemID: d.itemID, ItemName: d.name}
				}
				return fmt.Errorf("read item %s: %w", d.itemID, err)
			}
			items[i] = item
		}

		// Фаза проверки: заказ либо проходит по всем позициям, либо не проходит целиком.
		for i, d := range demands {
			if items[i].Stock < d.quantity {
				name := d.name
				if name == "" {
					name = items[i].Name
				}
				return &domain.InsufficientStockError{
					ItemID:    d.itemID,
					ItemName:  name,
					Available: items[i].Stock,
					Requested: d.quantity,
				}
			}
		}

		otp, err := m.newOTP()
		if err != nil {
			return err
		}

		// Фаза записи.
		for i, d := range demands {
			if err := tx.UpdateItemStock(ctx, d.itemID, items[i].Stock-d.quantity); err != nil {
				return fmt.Errorf("write stock %s: %w", d.itemID, err)
			}
		}
		order := m.buildOrder(req, otp)
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		placed = order
		return nil
	})
	if err != nil {
		err = classify(err)
		m.recordFailure(err)
		m.logger.WithError(err).WithFields(log.Fields{
			"lines":    len(req.Lines),
			"attempts": attempts,
		}).Warn("order placement rejected")
		return "", err
	}

	m.metrics.RecordOrderPlaced(attempts)
	m.logger.WithFields(log.Fields{
		"order_id": placed.ID,
		"store_id": placed.StoreID,
		"total":    placed.TotalMinor,
		"attempts": attempts,
	}).Info("order placed")

	m.events.OrderPlaced(ctx, placed)
	return placed.ID, nil
}

func (m *Manager) buildOrder(req PlaceOrderRequest, otp string) domain.Order {
	now := m.now()
	lines := make([]domain.OrderLine, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = line.OrderLine()
	}

	order := domain.Order{
		ID:              m.newID(),
		StoreID:         req.Lines[0].StoreID,
		Items:           lines,
		TotalMinor:      req.TotalMinor,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Phone:           strings.TrimSpace(req.Phone),
		Status:          domain.OrderStatusPlaced,
		OTP:             otp,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Requester != nil {
		order.UserID = domain.StringPtr(req.Requester.ID)
		order.UserName = domain.StringPtr(req.Requester.Name)
		order.UserEmail = domain.StringPtr(req.Requester.Email)
	}
	return order
}

// validate проверяет корзину до транзакции и сворачивает повторяющиеся позиции,
// чтобы одна корзина не могла списать один товар дважды.
func validate(req PlaceOrderRequest) ([]demand, error) {
	if len(req.Lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	storeID := req.Lines[0].StoreID
	var total int64
	index := make(map[string]int, len(req.Lines))
	demands := make([]demand, 0, len(req.Lines))

	for _, line := range req.Lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return nil, domain.ErrItemIDRequired
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidQuantity, line.ItemID)
		}
		if line.PriceMinor < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrItemPriceInvalid, line.ItemID)
		}
		if line.StoreID != storeID {
			return nil, domain.ErrMixedStoreCart
		}
		subtotal, err := line.CheckedSubtotal()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, line.ItemID)
		}
		if total, err = domain.AddAmount(total, subtotal); err != nil {
			return nil, err
		}

		if i, ok := index[line.ItemID]; ok {
			if demands[i].quantity > math.MaxInt-line.Quantity {
				return nil, fmt.Errorf("%w: %s", domain.ErrInvalidQuantity, line.ItemID)
			}
			demands[i].quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(demands)
		demands = append(demands, demand{itemID: line.ItemID, name: line.Name, quantity: line.Quantity})
	}

	if total != req.TotalMinor {
		return nil, fmt.Errorf("%w: expected %d, got %d", domain.ErrTotalMismatch, total, req.TotalMinor)
	}
	if !domain.ValidPhone(req.Phone) {
		return nil, domain.ErrInvalidPhone
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" {
		return nil, domain.ErrAddressRequired
	}
	return demands, nil
}

// classify оставляет ошибки таксономии как есть, остальное оборачивает в ErrOrderPlacementFailed.
func classify(err error) error {
	if domain.IsBusinessError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrOrderPlacementFailed, err)
}

func (m *Manager) recordFailure(err error) {
	var reason string
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		reason = metrics.ReasonEmptyCart
	case errors.Is(err, domain.ErrItemNotFound):
		reason = metrics.ReasonItemNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		reason = metrics.ReasonInsufficientStock
	case errors.Is(err, domain.ErrStorageUnavailable):
		reason = metrics.ReasonStorage
	case domain.IsValidationError(err):
		reason = metrics.ReasonValidation
	default:
		reason = metrics.ReasonInternal
	}
	m.metrics.RecordPlacementFailure(reason)
}
