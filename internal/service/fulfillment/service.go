// Package fulfillment ведёт заказ по цепочке placed → confirmed →
// out-for-delivery → delivered. Каждая операция выполняет read-check-write в транзакции.
package fulfillment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/metrics"
	"github.com/vladislavdragonenkov/quickart/internal/service/orderevents"
)

// EarningsRatePercent — доля курьера от суммы доставленных заказов.
const EarningsRatePercent = 20

// Earnings — сводка заработка курьера.
type Earnings struct {
	DeliveryPersonID string
	DeliveredOrders  int
	DeliveredTotal   int64
	EarningsMinor    int64
}

// Service реализует workflow статусов заказа.
type Service struct {
	store   domain.DocumentStore
	events  *orderevents.Recorder
	metrics *metrics.StorefrontMetrics
	logger  *log.Entry
}

// NewService создаёт сервис статусов. events и m могут быть nil.
func NewService(store domain.DocumentStore, events *orderevents.Recorder, m *metrics.StorefrontMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &Service{
		store:   store,
		events:  events,
		metrics: m,
		logger:  logger,
	}
}

// UpdateStatus — действие владельца магазина. Напрямую достижим только переход
// placed → confirmed: out-for-delivery требует назначения курьера, delivered требует OTP.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	if next != domain.OrderStatusConfirmed {
		return domain.Order{}, fmt.Errorf("%w: status %q is not set directly", domain.ErrInvalidTransition, next)
	}
	return s.transition(ctx, orderID, func(order *domain.Order) error {
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, next)
		}
		order.Status = next
		return nil
	})
}

// AssignDeliveryPerson назначает курьера подтверждённому заказу и одной записью
// переводит его в out-for-delivery.
func (s *Service) AssignDeliveryPerson(ctx context.Context, orderID string, person domain.DeliveryPerson) (domain.Order, error) {
	if strings.TrimSpace(person.ID) == "" {
		return domain.Order{}, domain.ErrDeliveryPersonRequired
	}
	return s.transition(ctx, orderID, func(order *domain.Order) error {
		if order.Status != domain.OrderStatusConfirmed {
			return fmt.Errorf("%w: assignment requires %s, order is %s",
				domain.ErrInvalidTransition, domain.OrderStatusConfirmed, order.Status)
		}
		order.DeliveryPerson = &domain.DeliveryPerson{ID: person.ID, Name: person.Name}
		order.Status = domain.OrderStatusOutForDelivery
		return nil
	})
}

// VerifyOtpAndComplete завершает доставку, если код совпал с сохранённым OTP.
// При несовпадении заказ остаётся out-for-delivery.
func (s *Service) VerifyOtpAndComplete(ctx context.Context, orderID, otp string) (domain.Order, error) {
	order, err := s.transition(ctx, orderID, func(order *domain.Order) error {
		if order.Status != domain.OrderStatusOutForDelivery {
			return fmt.Errorf("%w: otp verification requires %s, order is %s",
				domain.ErrInvalidTransition, domain.OrderStatusOutForDelivery, order.Status)
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(otp)), []byte(order.OTP)) != 1 {
			return domain.ErrInvalidOTP
		}
		order.Status = domain.OrderStatusDelivered
		return nil
	})
	if errors.Is(err, domain.ErrInvalidOTP) {
		s.metrics.RecordOTPFailure()
		s.logger.WithField("order_id", orderID).Warn("delivery otp mismatch")
	}
	return order, err
}

// GetOrder возвращает заказ по id.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.store == nil {
		return domain.Order{}, domain.ErrStorageUnavailable
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return s.store.GetOrder(ctx, orderID)
}

// ListStoreOrders возвращает заказы магазина, новые первыми.
func (s *Service) ListStoreOrders(ctx context.Context, storeID string, limit int) ([]domain.Order, error) {
	return s.list(ctx, domain.OrderFilter{StoreID: storeID, Limit: limit})
}

// ListUserOrders возвращает историю заказов покупателя.
func (s *Service) ListUserOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return s.list(ctx, domain.OrderFilter{UserID: userID, Limit: limit})
}

// ListDeliveryOrders возвращает заказы курьера: сначала активные доставки, затем завершённые.
func (s *Service) ListDeliveryOrders(ctx context.Context, personID string) ([]domain.Order, error) {
	orders, err := s.list(ctx, domain.OrderFilter{
		DeliveryPersonID: personID,
		Statuses:         []domain.OrderStatus{domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered},
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Status == domain.OrderStatusOutForDelivery && orders[j].Status != domain.OrderStatusOutForDelivery
	})
	return orders, nil
}

// DeliveryEarnings считает заработок курьера по доставленным заказам.
func (s *Service) DeliveryEarnings(ctx context.Context, personID string) (Earnings, error) {
	orders, err := s.list(ctx, domain.OrderFilter{
		DeliveryPersonID: personID,
		Statuses:         []domain.OrderStatus{domain.OrderStatusDelivered},
	})
	if err != nil {
		return Earnings{}, err
	}

	result := Earnings{DeliveryPersonID: personID, DeliveredOrders: len(orders)}
	for _, order := range orders {
		result.DeliveredTotal += order.TotalMinor
	}
	result.EarningsMinor = result.DeliveredTotal * EarningsRatePercent / 100
	return result, nil
}

func (s *Service) list(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if s.store == nil {
		return nil, domain.ErrStorageUnavailable
	}
	return s.store.ListOrders(ctx, filter)
}

// transition читает заказ, применяет mutate и записывает результат в одной транзакции.
func (s *Service) transition(ctx context.Context, orderID string, mutate func(order *domain.Order) error) (domain.Order, error) {
	if s.store == nil {
		return domain.Order{}, domain.ErrStorageUnavailable
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	var (
		updated domain.Order
		from    domain.OrderStatus
	)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if err := mutate(&order); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordStatusTransition(string(from), string(updated.Status))
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     from,
		"to":       updated.Status,
	}).Info("order status changed")
	s.events.StatusChanged(ctx, updated, from)

	// Возвращаем актуальную версию из хранилища, а не буфер транзакции.
	if stored, err := s.store.GetOrder(ctx, orderID); err == nil {
		return stored, nil
	}
	return updated, nil
}
