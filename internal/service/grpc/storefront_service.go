package grpcsvc

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/quickart/api/storefront/v1"
	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/service/checkout"
	"github.com/vladislavdragonenkov/quickart/internal/service/fulfillment"
)

const defaultListOrdersLimit = 100

// OrderPlacer оформляет заказ (реализуется checkout.Manager).
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderRequest) (string, error)
}

// OrderWorkflow ведёт заказ по статусам (реализуется fulfillment.Service).
type OrderWorkflow interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error)
	AssignDeliveryPerson(ctx context.Context, orderID string, person domain.DeliveryPerson) (domain.Order, error)
	VerifyOtpAndComplete(ctx context.Context, orderID, otp string) (domain.Order, error)
	ListStoreOrders(ctx context.Context, storeID string, limit int) ([]domain.Order, error)
}

var (
	_ OrderPlacer   = (*checkout.Manager)(nil)
	_ OrderWorkflow = (*fulfillment.Service)(nil)
)

// StorefrontService реализует gRPC API витрины поверх менеджера оформления и workflow статусов.
type StorefrontService struct {
	storefrontv1.UnimplementedStorefrontServiceServer

	placer   OrderPlacer
	workflow OrderWorkflow
	timeline domain.TimelineRepository
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

// NewStorefrontService конструирует сервис. timeline и idemRepo опциональны.
func NewStorefrontService(
	placer OrderPlacer,
	workflow OrderWorkflow,
	timeline domain.TimelineRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *StorefrontService {
	if logger == nil {
		logger = log.New().WithField("component", "storefront-grpc")
	}
	return &StorefrontService{
		placer:   placer,
		workflow: workflow,
		timeline: timeline,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// PlaceOrder оформляет заказ. При настроенном хранилище идемпотентности
// требует metadata idempotency-key и повторно отдаёт сохранённый ответ.
func (s *StorefrontService) PlaceOrder(ctx context.Context, req *storefrontv1.PlaceOrderRequest) (*storefrontv1.PlaceOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(
		s,
		ctx,
		storefrontv1.StorefrontService_PlaceOrder_FullMethodName,
		req,
		func() *storefrontv1.PlaceOrderResponse { return &storefrontv1.PlaceOrderResponse{} },
		func(ctx context.Context) (*storefrontv1.PlaceOrderResponse, error) {
			return s.placeOrderInternal(ctx, req)
		},
	)
}

func (s *StorefrontService) placeOrderInternal(ctx context.Context, req *storefrontv1.PlaceOrderRequest) (*storefrontv1.PlaceOrderResponse, error) {
	if s.placer == nil {
		return nil, toStatusError(domain.ErrStorageUnavailable)
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for idx, line := range req.Lines {
		if line == nil {
			return nil, status.Errorf(codes.InvalidArgument, "lines[%d] is nil", idx)
		}
		lines = append(lines, fromCartLine(line))
	}

	orderID, err := s.placer.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		Lines:           lines,
		TotalMinor:      req.TotalMinor,
		DeliveryAddress: req.DeliveryAddress,
		Phone:           req.Phone,
		Requester:       fromRequester(req.Requester),
	})
	if err != nil {
		s.logger.WithError(err).WithField("lines", len(lines)).Warn("place order failed")
		return nil, toStatusError(err)
	}

	return &storefrontv1.PlaceOrderResponse{OrderID: orderID}, nil
}

// GetOrder возвращает заказ и его таймлайн.
func (s *StorefrontService) GetOrder(ctx context.Context, req *storefrontv1.GetOrderRequest) (*storefrontv1.GetOrderResponse, error) {
	if req.GetOrderID() == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if s.workflow == nil {
		return nil, toStatusError(domain.ErrStorageUnavailable)
	}

	order, err := s.workflow.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.loadError(err, "GetOrder", req.OrderID)
	}

	return &storefrontv1.GetOrderResponse{
		Order:    ToOrder(order),
		Timeline: s.buildTimeline(ctx, order.ID),
	}, nil
}

// UpdateOrderStatus — подтверждение заказа магазином.
func (s *StorefrontService) UpdateOrderStatus(ctx context.Context, req *storefrontv1.UpdateOrderStatusRequest) (*storefrontv1.OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if s.workflow == nil {
		return nil, toStatusError(domain.ErrStorageUnavailable)
	}

	order, err := s.workflow.UpdateStatus(ctx, req.OrderID, domain.OrderStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		return nil, s.loadError(err, "UpdateOrderStatus", req.OrderID)
	}
	return &storefrontv1.OrderResponse{Order: ToOrder(order)}, nil
}

// AssignDeliveryPerson назначает курьера и переводит заказ в out-for-delivery.
func (s *StorefrontService) AssignDeliveryPerson(ctx context.Context, req *storefrontv1.AssignDeliveryPersonRequest) (*storefrontv1.OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if s.workflow == nil {
		return nil, toStatusError(domain.ErrStorageUnavailable)
	}

	order, err := s.workflow.AssignDeliveryPerson(ctx, req.OrderID, domain.DeliveryPerson{
		ID:   req.DeliveryPersonID,
		Name: req.DeliveryPersonName,
	})
	if err != nil {
		return nil, s.loadError(err, "AssignDeliveryPerson", req.OrderID)
	}
	return &storefrontv1.OrderResponse{Order: ToOrder(order)}, nil
}

// VerifyDeliveryOtp завершает доставку по коду покупателя.
func (s *StorefrontService) VerifyDeliveryOtp(ctx context.Context, req *storefrontv1.VerifyDeliveryOtpRequest) (*storefrontv1.OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if s.workflow == nil {
		return nil, toStatusError(domain.ErrStorageUnavailable)
	}

	order, err := s.workflow.VerifyOtpAndComplete(ctx, req.OrderID, req.OTP)
	if err != nil {
		return nil, s.loadError(err, "VerifyDeliveryOtp", req.OrderID)
	}
	return &storefrontv1.OrderResponse{Order: ToOrder(order)}, nil
}

// ListStoreOrders возвращает заказы магазина.
func (s *StorefrontService) ListStoreOrders(ctx context.Context, req *storefrontv1.ListStoreOrdersRequest) (*storefrontv1.ListOrdersResponse, error) {
	if req.GetStoreID() == "" {
		return nil, status.Error(codes.InvalidArgument, "store_id is required")
	}
	if s.workflow == nil {
		return nil, toStatusError(domain.ErrStorageUnavailable)
	}

	limit := int(req.PageSize)
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}

	orders, err := s.workflow.ListStoreOrders(ctx, req.StoreID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("store_id", req.StoreID).Error("failed to list orders")
		return nil, toStatusError(err)
	}

	result := make([]*storefrontv1.Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, ToOrder(order))
	}
	return &storefrontv1.ListOrdersResponse{Orders: result}, nil
}

func (s *StorefrontService) loadError(err error, operation, orderID string) error {
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	})
	if errors.Is(err, domain.ErrOrderNotFound) || domain.IsValidationError(err) ||
		errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrInvalidOTP) {
		entry.Warn("order operation rejected")
	} else {
		entry.Error("order operation failed")
	}
	return toStatusError(err)
}

func (s *StorefrontService) buildTimeline(ctx context.Context, orderID string) []*storefrontv1.TimelineEvent {
	if s.timeline == nil {
		return nil
	}
	events, err := s.timeline.List(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return nil
	}
	result := make([]*storefrontv1.TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, &storefrontv1.TimelineEvent{
			Type:       event.Type,
			Reason:     event.Reason,
			OccurredAt: event.Occurred,
		})
	}
	return result
}

// toStatusError переводит доменную таксономию в gRPC-коды. В сообщении текст для пользователя.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	msg := domain.UserMessage(err)
	switch {
	case domain.IsValidationError(err):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, msg)
	case errors.Is(err, domain.ErrInvalidOTP):
		return status.Error(codes.PermissionDenied, msg)
	case errors.Is(err, domain.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, msg)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case domain.IsVersionConflict(err):
		return status.Error(codes.Aborted, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
