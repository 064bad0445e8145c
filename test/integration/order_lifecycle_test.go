package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/quickart/api/storefront/v1"
	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/service/checkout"
	"github.com/vladislavdragonenkov/quickart/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/quickart/internal/service/grpc"
	"github.com/vladislavdragonenkov/quickart/internal/service/inventory"
	"github.com/vladislavdragonenkov/quickart/internal/service/orderevents"
	"github.com/vladislavdragonenkov/quickart/internal/service/outbox"
	"github.com/vladislavdragonenkov/quickart/internal/storage/memory"
)

// OrderLifecycleTestSuite прогоняет заказ от корзины до доставки через gRPC-сервис.
type OrderLifecycleTestSuite struct {
	suite.Suite
	service   *grpcsvc.StorefrontService
	store     *memory.Store
	timeline  domain.TimelineRepository
	outbox    *memory.OutboxRepository
	inventory *inventory.Service
	logger    *log.Entry
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	suite.logger = baseLogger.WithField("component", "integration-test")

	suite.store = memory.NewStore()
	suite.timeline = memory.NewTimelineRepository()
	suite.outbox = memory.NewOutboxRepository()

	recorder := orderevents.NewRecorder(suite.timeline, suite.outbox, nil, suite.logger)
	manager := checkout.NewManager(suite.store,
		checkout.WithEvents(recorder),
		checkout.WithLogger(suite.logger),
	)
	workflow := fulfillment.NewService(suite.store, recorder, nil, suite.logger)
	suite.inventory = inventory.NewService(suite.store, suite.logger)

	suite.service = grpcsvc.NewStorefrontService(manager, workflow, suite.timeline, nil, suite.logger)
}

func (suite *OrderLifecycleTestSuite) seedItem(name string, price int64, stock int) domain.Item {
	item, err := suite.inventory.AddItem(context.Background(), inventory.AddItemInput{
		Name:       name,
		Category:   "groceries",
		PriceMinor: price,
		Stock:      stock,
		StoreID:    "store-1",
		StoreName:  "Corner Shop",
	})
	suite.Require().NoError(err)
	return item
}

func (suite *OrderLifecycleTestSuite) stockOf(id string) int {
	item, err := suite.inventory.GetItem(context.Background(), id)
	suite.Require().NoError(err)
	return item.Stock
}

func cartLine(item domain.Item, qty int32) *storefrontv1.CartLine {
	return &storefrontv1.CartLine{
		ItemID:     item.ID,
		Name:       item.Name,
		PriceMinor: item.PriceMinor,
		Quantity:   qty,
		StoreID:    item.StoreID,
		StoreName:  item.StoreName,
	}
}

func (suite *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	ctx := context.Background()
	milk := suite.seedItem("Milk", 6500, 10)
	bread := suite.seedItem("Bread", 4000, 3)

	// 1. Оформляем заказ
	placeResp, err := suite.service.PlaceOrder(ctx, &storefrontv1.PlaceOrderRequest{
		Lines:           []*storefrontv1.CartLine{cartLine(milk, 2), cartLine(bread, 1)},
		TotalMinor:      2*6500 + 4000,
		DeliveryAddress: "12 Market Street",
		Phone:           "9876543210",
		Requester:       &storefrontv1.Requester{ID: "user-1", Name: "Asha", Email: "asha@example.com"},
	})
	suite.Require().NoError(err)
	orderID := placeResp.GetOrderID()
	suite.Require().NotEmpty(orderID)

	suite.Equal(8, suite.stockOf(milk.ID))
	suite.Equal(2, suite.stockOf(bread.ID))

	// 2. Читаем заказ: статус placed, OTP выдан
	getResp, err := suite.service.GetOrder(ctx, &storefrontv1.GetOrderRequest{OrderID: orderID})
	suite.Require().NoError(err)
	order := getResp.GetOrder()
	suite.Require().NotNil(order)
	suite.Equal(string(domain.OrderStatusPlaced), order.Status)
	suite.Equal("store-1", order.StoreID)
	suite.Equal(int64(17000), order.TotalMinor)
	suite.Len(order.Items, 2)
	suite.Len(order.OTP, 4)
	suite.Require().NotNil(order.UserID)
	suite.Equal("user-1", *order.UserID)
	suite.Nil(order.DeliveryPerson)

	// 3. Магазин подтверждает
	confirmed, err := suite.service.UpdateOrderStatus(ctx, &storefrontv1.UpdateOrderStatusRequest{
		OrderID: orderID,
		Status:  string(domain.OrderStatusConfirmed),
	})
	suite.Require().NoError(err)
	suite.Equal(string(domain.OrderStatusConfirmed), confirmed.Order.Status)

	// 4. Назначаем курьера
	assigned, err := suite.service.AssignDeliveryPerson(ctx, &storefrontv1.AssignDeliveryPersonRequest{
		OrderID:            orderID,
		DeliveryPersonID:   "courier-7",
		DeliveryPersonName: "Ravi",
	})
	suite.Require().NoError(err)
	suite.Equal(string(domain.OrderStatusOutForDelivery), assigned.Order.Status)
	suite.Require().NotNil(assigned.Order.DeliveryPerson)
	suite.Equal("courier-7", assigned.Order.DeliveryPerson.ID)

	// 5. Неверный код не завершает доставку
	_, err = suite.service.VerifyDeliveryOtp(ctx, &storefrontv1.VerifyDeliveryOtpRequest{
		OrderID: orderID,
		OTP:     wrongOTP(order.OTP),
	})
	suite.Equal(codes.PermissionDenied, status.Code(err))

	// 6. Верный код
	delivered, err := suite.service.VerifyDeliveryOtp(ctx, &storefrontv1.VerifyDeliveryOtpRequest{
		OrderID: orderID,
		OTP:     order.OTP,
	})
	suite.Require().NoError(err)
	suite.Equal(string(domain.OrderStatusDelivered), delivered.Order.Status)

	// 7. Таймлайн: размещение и три смены статуса
	events, err := suite.timeline.List(ctx, orderID)
	suite.Require().NoError(err)
	suite.Require().Len(events, 4)
	suite.Equal(domain.EventOrderPlaced, events[0].Type)
	suite.Equal("placed -> confirmed", events[1].Reason)
	suite.Equal("confirmed -> out-for-delivery", events[2].Reason)
	suite.Equal("out-for-delivery -> delivered", events[3].Reason)

	getResp, err = suite.service.GetOrder(ctx, &storefrontv1.GetOrderRequest{OrderID: orderID})
	suite.Require().NoError(err)
	suite.Len(getResp.Timeline, 4)

	// 8. Outbox содержит те же события, OTP в них не попадает
	pending, err := suite.outbox.PullPending(ctx, 10)
	suite.Require().NoError(err)
	suite.Require().Len(pending, 4)

	byType := make(map[string]int)
	for _, msg := range pending {
		byType[msg.EventType]++
		suite.Equal(orderID, msg.AggregateID)
		suite.NotContains(string(msg.Payload), `"otp"`)
		if msg.EventType != domain.EventOrderPlaced {
			continue
		}
		var placed domain.OrderPlacedPayload
		suite.Require().NoError(json.Unmarshal(msg.Payload, &placed))
		suite.Equal(orderID, placed.OrderID)
		suite.Equal(int64(17000), placed.TotalMinor)
	}
	suite.Equal(map[string]int{
		domain.EventOrderPlaced:        1,
		domain.EventOrderStatusChanged: 3,
	}, byType)
}

func (suite *OrderLifecycleTestSuite) TestInsufficientStockKeepsInventory() {
	ctx := context.Background()
	milk := suite.seedItem("Milk", 6500, 5)
	eggs := suite.seedItem("Eggs", 9000, 1)

	_, err := suite.service.PlaceOrder(ctx, &storefrontv1.PlaceOrderRequest{
		Lines:           []*storefrontv1.CartLine{cartLine(milk, 2), cartLine(eggs, 2)},
		TotalMinor:      2*6500 + 2*9000,
		DeliveryAddress: "12 Market Street",
		Phone:           "9876543210",
	})
	suite.Equal(codes.FailedPrecondition, status.Code(err))
	suite.Contains(status.Convert(err).Message(), "Eggs")

	suite.Equal(5, suite.stockOf(milk.ID))
	suite.Equal(1, suite.stockOf(eggs.ID))

	stats, err := suite.outbox.Stats(ctx)
	suite.Require().NoError(err)
	suite.Zero(stats.PendingCount)
}

func (suite *OrderLifecycleTestSuite) TestStatusCannotSkipSteps() {
	ctx := context.Background()
	milk := suite.seedItem("Milk", 6500, 5)

	placeResp, err := suite.service.PlaceOrder(ctx, &storefrontv1.PlaceOrderRequest{
		Lines:           []*storefrontv1.CartLine{cartLine(milk, 1)},
		TotalMinor:      6500,
		DeliveryAddress: "12 Market Street",
		Phone:           "9876543210",
	})
	suite.Require().NoError(err)
	orderID := placeResp.GetOrderID()

	// курьера нельзя назначить до подтверждения
	_, err = suite.service.AssignDeliveryPerson(ctx, &storefrontv1.AssignDeliveryPersonRequest{
		OrderID:            orderID,
		DeliveryPersonID:   "courier-7",
		DeliveryPersonName: "Ravi",
	})
	suite.Equal(codes.FailedPrecondition, status.Code(err))

	// delivered выставляется только через OTP
	_, err = suite.service.UpdateOrderStatus(ctx, &storefrontv1.UpdateOrderStatusRequest{
		OrderID: orderID,
		Status:  string(domain.OrderStatusDelivered),
	})
	suite.Error(err)

	getResp, err := suite.service.GetOrder(ctx, &storefrontv1.GetOrderRequest{OrderID: orderID})
	suite.Require().NoError(err)
	suite.Equal(string(domain.OrderStatusPlaced), getResp.Order.Status)
}

func (suite *OrderLifecycleTestSuite) TestGuestCheckoutAndStoreListing() {
	ctx := context.Background()
	milk := suite.seedItem("Milk", 6500, 10)

	for i := 0; i < 3; i++ {
		_, err := suite.service.PlaceOrder(ctx, &storefrontv1.PlaceOrderRequest{
			Lines:           []*storefrontv1.CartLine{cartLine(milk, 1)},
			TotalMinor:      6500,
			DeliveryAddress: "12 Market Street",
			Phone:           "9876543210",
		})
		suite.Require().NoError(err)
	}

	list, err := suite.service.ListStoreOrders(ctx, &storefrontv1.ListStoreOrdersRequest{StoreID: "store-1"})
	suite.Require().NoError(err)
	suite.Len(list.Orders, 3)
	for _, order := range list.Orders {
		suite.Nil(order.UserID)
	}
	suite.Equal(7, suite.stockOf(milk.ID))
}

func (suite *OrderLifecycleTestSuite) TestOutboxWorkerPublishesEvents() {
	ctx := context.Background()
	milk := suite.seedItem("Milk", 6500, 10)

	_, err := suite.service.PlaceOrder(ctx, &storefrontv1.PlaceOrderRequest{
		Lines:           []*storefrontv1.CartLine{cartLine(milk, 1)},
		TotalMinor:      6500,
		DeliveryAddress: "12 Market Street",
		Phone:           "9876543210",
	})
	suite.Require().NoError(err)

	publisher := &capturingPublisher{}
	worker := outbox.NewWorker(suite.outbox, publisher, outbox.WithLogger(suite.logger))

	result := worker.ProcessOnce(ctx)
	suite.Equal(1, result.Pulled)
	suite.Equal(1, result.Sent)
	suite.Zero(result.DeadLettered)
	suite.Zero(result.Stuck)

	published := publisher.events()
	suite.Require().Len(published, 1)
	suite.Equal(domain.EventOrderPlaced, published[0].EventType)

	stats, err := suite.outbox.Stats(ctx)
	suite.Require().NoError(err)
	suite.Zero(stats.PendingCount)
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func TestConcurrentCheckoutNeverOversells(t *testing.T) {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := logger.WithField("component", "integration-test")

	store := memory.NewStore()
	manager := checkout.NewManager(store, checkout.WithLogger(entry))
	catalog := inventory.NewService(store, entry)

	item, err := catalog.AddItem(context.Background(), inventory.AddItemInput{
		Name:       "Mango",
		PriceMinor: 12000,
		Stock:      5,
		StoreID:    "store-1",
	})
	require.NoError(t, err)

	const buyers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.PlaceOrder(context.Background(), checkout.PlaceOrderRequest{
				Lines: []domain.CartLine{{
					ItemID:     item.ID,
					Name:       item.Name,
					PriceMinor: item.PriceMinor,
					Quantity:   1,
					StoreID:    item.StoreID,
				}},
				TotalMinor:      12000,
				DeliveryAddress: "12 Market Street",
				Phone:           "9876543210",
			})
			if err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored, err := catalog.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stored.Stock, 0)
	require.Equal(t, 5-placed, stored.Stock)
}

type capturingPublisher struct {
	mu        sync.Mutex
	published []domain.OutboxMessage
}

func (p *capturingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	return nil
}

func (p *capturingPublisher) events() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.published...)
}

func wrongOTP(otp string) string {
	if otp == "0000" {
		return "1111"
	}
	return "0000"
}
