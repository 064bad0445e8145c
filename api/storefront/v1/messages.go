// Package storefrontv1 описывает gRPC API витрины: сообщения, JSON-кодек и
// дескриптор сервиса quickart.v1.StorefrontService.
package storefrontv1

import "time"

// CartLine — позиция корзины в запросе оформления.
type CartLine struct {
	ItemID     string  `json:"item_id"`
	Name       string  `json:"name"`
	PriceMinor int64   `json:"price_minor"`
	Quantity   int32   `json:"quantity"`
	Image      string  `json:"image,omitempty"`
	StoreID    string  `json:"store_id"`
	StoreName  string  `json:"store_name,omitempty"`
	Offer      *string `json:"offer,omitempty"`
}

// Requester — покупатель; отсутствует для гостевого заказа.
type Requester struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type PlaceOrderRequest struct {
	Lines           []*CartLine `json:"lines"`
	TotalMinor      int64       `json:"total_minor"`
	DeliveryAddress string      `json:"delivery_address"`
	Phone           string      `json:"phone"`
	Requester       *Requester  `json:"requester,omitempty"`
}

type PlaceOrderResponse struct {
	OrderID string `json:"order_id"`
}

// OrderLine — снимок позиции внутри заказа.
type OrderLine struct {
	ItemID     string  `json:"item_id"`
	Name       string  `json:"name"`
	PriceMinor int64   `json:"price_minor"`
	Quantity   int32   `json:"quantity"`
	Image      string  `json:"image,omitempty"`
	StoreID    string  `json:"store_id"`
	StoreName  string  `json:"store_name,omitempty"`
	Offer      *string `json:"offer"`
}

type DeliveryPerson struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          *string         `json:"user_id"`
	UserName        *string         `json:"user_name"`
	UserEmail       *string         `json:"user_email"`
	StoreID         string          `json:"store_id"`
	Items           []*OrderLine    `json:"items"`
	TotalMinor      int64           `json:"total_minor"`
	DeliveryAddress string          `json:"delivery_address"`
	Phone           string          `json:"phone"`
	Status          string          `json:"status"`
	OTP             string          `json:"otp,omitempty"`
	DeliveryPerson  *DeliveryPerson `json:"delivery_person"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type TimelineEvent struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type GetOrderResponse struct {
	Order    *Order           `json:"order"`
	Timeline []*TimelineEvent `json:"timeline,omitempty"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type AssignDeliveryPersonRequest struct {
	OrderID            string `json:"order_id"`
	DeliveryPersonID   string `json:"delivery_person_id"`
	DeliveryPersonName string `json:"delivery_person_name"`
}

type VerifyDeliveryOtpRequest struct {
	OrderID string `json:"order_id"`
	OTP     string `json:"otp"`
}

// OrderResponse возвращается всеми операциями смены статуса.
type OrderResponse struct {
	Order *Order `json:"order"`
}

type ListStoreOrdersRequest struct {
	StoreID  string `json:"store_id"`
	PageSize int32  `json:"page_size,omitempty"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

// GetOrderID безопасен для nil-запроса.
func (r *GetOrderRequest) GetOrderID() string {
	if r == nil {
		return ""
	}
	return r.OrderID
}

func (r *PlaceOrderRequest) GetLines() []*CartLine {
	if r == nil {
		return nil
	}
	return r.Lines
}

func (r *ListStoreOrdersRequest) GetStoreID() string {
	if r == nil {
		return ""
	}
	return r.StoreID
}

func (r *PlaceOrderResponse) GetOrderID() string {
	if r == nil {
		return ""
	}
	return r.OrderID
}

func (r *GetOrderResponse) GetOrder() *Order {
	if r == nil {
		return nil
	}
	return r.Order
}
