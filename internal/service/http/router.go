// Package httpapi — JSON API витрины поверх chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/service/checkout"
	"github.com/vladislavdragonenkov/quickart/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/quickart/internal/service/inventory"
)

const (
	defaultRequestTimeout     = 15 * time.Second
	maxRequestBodyBytes       = 1 << 20
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyTTL            = 24 * time.Hour
	idempotencyReleaseTimeout = 2 * time.Second
)

// OrderPlacer оформляет заказ.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderRequest) (string, error)
}

// OrderWorkflow — статусы заказа и выборки для дашбордов.
type OrderWorkflow interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error)
	AssignDeliveryPerson(ctx context.Context, orderID string, person domain.DeliveryPerson) (domain.Order, error)
	VerifyOtpAndComplete(ctx context.Context, orderID, otp string) (domain.Order, error)
	ListStoreOrders(ctx context.Context, storeID string, limit int) ([]domain.Order, error)
	ListUserOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListDeliveryOrders(ctx context.Context, personID string) ([]domain.Order, error)
	DeliveryEarnings(ctx context.Context, personID string) (fulfillment.Earnings, error)
}

// Catalog — правки и поиск товаров.
type Catalog interface {
	AddItem(ctx context.Context, input inventory.AddItemInput) (domain.Item, error)
	UpdateItem(ctx context.Context, input inventory.UpdateItemInput) (domain.Item, error)
	GetItem(ctx context.Context, id string) (domain.Item, error)
	ListStoreItems(ctx context.Context, storeID string) ([]domain.Item, error)
	SearchItems(ctx context.Context, query string) ([]domain.Item, error)
}

var (
	_ OrderPlacer   = (*checkout.Manager)(nil)
	_ OrderWorkflow = (*fulfillment.Service)(nil)
	_ Catalog       = (*inventory.Service)(nil)
)

// Handler обслуживает HTTP API.
type Handler struct {
	placer   OrderPlacer
	workflow OrderWorkflow
	catalog  Catalog
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	timeout  time.Duration
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key для POST /v1/orders.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(h *Handler) {
		h.idemRepo = repo
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRequestTimeout ограничивает время обработки запроса.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler создаёт обработчик. Любая из зависимостей может быть nil:
// соответствующие маршруты отвечают 503.
func NewHandler(placer OrderPlacer, workflow OrderWorkflow, catalog Catalog, opts ...Option) *Handler {
	h := &Handler{
		placer:   placer,
		workflow: workflow,
		catalog:  catalog,
		logger:   log.New().WithField("component", "storefront-http"),
		timeout:  defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes собирает chi-роутер со всеми маршрутами API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(middleware.Timeout(h.timeout))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.placeOrder)
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Post("/status", h.updateStatus)
				r.Post("/assignment", h.assignDeliveryPerson)
				r.Post("/delivery", h.verifyDelivery)
			})
		})
		r.Get("/stores/{storeID}/orders", h.listStoreOrders)
		r.Get("/stores/{storeID}/items", h.listStoreItems)
		r.Get("/users/{userID}/orders", h.listUserOrders)
		r.Get("/delivery-people/{personID}/orders", h.listDeliveryOrders)
		r.Get("/delivery-people/{personID}/earnings", h.deliveryEarnings)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.searchItems)
			r.Post("/", h.addItem)
			r.Get("/{itemID}", h.getItem)
			r.Put("/{itemID}", h.updateItem)
		})
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request served")
	})
}
