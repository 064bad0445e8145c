package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/service/checkout"
	"github.com/vladislavdragonenkov/quickart/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/quickart/internal/service/inventory"
)

type cartLineDTO struct {
	ItemID     string  `json:"item_id"`
	Name       string  `json:"name"`
	PriceMinor int64   `json:"price_minor"`
	Quantity   int     `json:"quantity"`
	Image      string  `json:"image,omitempty"`
	StoreID    string  `json:"store_id"`
	StoreName  string  `json:"store_name,omitempty"`
	Offer      *string `json:"offer,omitempty"`
}

type requesterDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type placeOrderRequest struct {
	Lines           []cartLineDTO `json:"lines"`
	TotalMinor      int64         `json:"total_minor"`
	DeliveryAddress string        `json:"delivery_address"`
	Phone           string        `json:"phone"`
	Requester       *requesterDTO `json:"requester,omitempty"`
}

type placeOrderResponse struct {
	OrderID string `json:"order_id"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type assignmentRequest struct {
	DeliveryPersonID   string `json:"delivery_person_id"`
	DeliveryPersonName string `json:"delivery_person_name"`
}

type deliveryRequest struct {
	OTP string `json:"otp"`
}

type orderLineDTO struct {
	ItemID     string  `json:"item_id"`
	Name       string  `json:"name"`
	PriceMinor int64   `json:"price_minor"`
	Quantity   int     `json:"quantity"`
	Image      string  `json:"image,omitempty"`
	StoreID    string  `json:"store_id"`
	StoreName  string  `json:"store_name,omitempty"`
	Offer      *string `json:"offer"`
}

type orderDTO struct {
	ID                 string         `json:"id"`
	UserID             *string        `json:"user_id"`
	UserName           *string        `json:"user_name"`
	UserEmail          *string        `json:"user_email"`
	StoreID            string         `json:"store_id"`
	Items              []orderLineDTO `json:"items"`
	TotalMinor         int64          `json:"total_minor"`
	DeliveryAddress    string         `json:"delivery_address"`
	Phone              string         `json:"phone"`
	Status             string         `json:"status"`
	OTP                string         `json:"otp,omitempty"`
	DeliveryPersonID   *string        `json:"delivery_person_id"`
	DeliveryPersonName *string        `json:"delivery_person_name"`
	Version            int64          `json:"version"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

type earningsDTO struct {
	DeliveryPersonID string `json:"delivery_person_id"`
	DeliveredOrders  int    `json:"delivered_orders"`
	DeliveredTotal   int64  `json:"delivered_total_minor"`
	EarningsMinor    int64  `json:"earnings_minor"`
}

type itemRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	PriceMinor  int64   `json:"price_minor"`
	Stock       int     `json:"stock"`
	Image       string  `json:"image,omitempty"`
	StoreID     string  `json:"store_id"`
	StoreName   string  `json:"store_name,omitempty"`
	Offer       *string `json:"offer,omitempty"`
}

type itemDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	PriceMinor  int64     `json:"price_minor"`
	Stock       int       `json:"stock"`
	Image       string    `json:"image,omitempty"`
	StoreID     string    `json:"store_id"`
	StoreName   string    `json:"store_name,omitempty"`
	Offer       *string   `json:"offer"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r placeOrderRequest) toDomain() checkout.PlaceOrderRequest {
	lines := make([]domain.CartLine, 0, len(r.Lines))
	for _, line := range r.Lines {
		lines = append(lines, domain.CartLine{
			ItemID:     line.ItemID,
			Name:       line.Name,
			PriceMinor: line.PriceMinor,
			Quantity:   line.Quantity,
			Image:      line.Image,
			StoreID:    line.StoreID,
			StoreName:  line.StoreName,
			Offer:      line.Offer,
		})
	}

	req := checkout.PlaceOrderRequest{
		Lines:           lines,
		TotalMinor:      r.TotalMinor,
		DeliveryAddress: r.DeliveryAddress,
		Phone:           r.Phone,
	}
	if r.Requester != nil && r.Requester.ID != "" {
		req.Requester = &domain.Requester{ID: r.Requester.ID, Name: r.Requester.Name, Email: r.Requester.Email}
	}
	return req
}

func toOrderDTO(order domain.Order) orderDTO {
	lines := make([]orderLineDTO, 0, len(order.Items))
	for _, line := range order.Items {
		lines = append(lines, orderLineDTO{
			ItemID:     line.ItemID,
			Name:       line.Name,
			PriceMinor: line.PriceMinor,
			Quantity:   line.Quantity,
			Image:      line.Image,
			StoreID:    line.StoreID,
			StoreName:  line.StoreName,
			Offer:      line.Offer,
		})
	}

	dto := orderDTO{
		ID:              order.ID,
		UserID:          order.UserID,
		UserName:        order.UserName,
		UserEmail:       order.UserEmail,
		StoreID:         order.StoreID,
		Items:           lines,
		TotalMinor:      order.TotalMinor,
		DeliveryAddress: order.DeliveryAddress,
		Phone:           order.Phone,
		Status:          string(order.Status),
		OTP:             order.OTP,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	if order.DeliveryPerson != nil {
		dto.DeliveryPersonID = domain.StringPtr(order.DeliveryPerson.ID)
		dto.DeliveryPersonName = domain.StringPtr(order.DeliveryPerson.Name)
	}
	return dto
}

func toOrderDTOs(orders []domain.Order) []orderDTO {
	result := make([]orderDTO, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderDTO(order))
	}
	return result
}

func toItemDTO(item domain.Item) itemDTO {
	return itemDTO{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		PriceMinor:  item.PriceMinor,
		Stock:       item.Stock,
		Image:       item.Image,
		StoreID:     item.StoreID,
		StoreName:   item.StoreName,
		Offer:       item.Offer,
		UpdatedAt:   item.UpdatedAt,
	}
}

func toItemDTOs(items []domain.Item) []itemDTO {
	result := make([]itemDTO, 0, len(items))
	for _, item := range items {
		result = append(result, toItemDTO(item))
	}
	return result
}

func toEarningsDTO(e fulfillment.Earnings) earningsDTO {
	return earningsDTO{
		DeliveryPersonID: e.DeliveryPersonID,
		DeliveredOrders:  e.DeliveredOrders,
		DeliveredTotal:   e.DeliveredTotal,
		EarningsMinor:    e.EarningsMinor,
	}
}

func (r itemRequest) toAddInput() inventory.AddItemInput {
	return inventory.AddItemInput{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		PriceMinor:  r.PriceMinor,
		Stock:       r.Stock,
		Image:       r.Image,
		StoreID:     r.StoreID,
		StoreName:   r.StoreName,
		Offer:       r.Offer,
	}
}

func (r itemRequest) toUpdateInput(id string) inventory.UpdateItemInput {
	return inventory.UpdateItemInput{
		ID:          id,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		PriceMinor:  r.PriceMinor,
		Stock:       r.Stock,
	}
}
