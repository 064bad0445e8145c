package mongo

import (
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

type itemDocument struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Category    string    `bson:"category"`
	PriceMinor  int64     `bson:"price_minor"`
	Stock       int       `bson:"stock"`
	Image       string    `bson:"image"`
	StoreID     string    `bson:"store_id"`
	StoreName   string    `bson:"store_name"`
	Offer       *string   `bson:"offer"`
	Version     int64     `bson:"version"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func newItemDocument(item domain.Item) itemDocument {
	return itemDocument{
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
		Version:     item.Version,
		UpdatedAt:   item.UpdatedAt,
	}
}

func (d itemDocument) toDomain() domain.Item {
	return domain.Item{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		PriceMinor:  d.PriceMinor,
		Stock:       d.Stock,
		Image:       d.Image,
		StoreID:     d.StoreID,
		StoreName:   d.StoreName,
		Offer:       d.Offer,
		Version:     d.Version,
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

type orderLineDocument struct {
	ItemID     string  `bson:"id"`
	Name       string  `bson:"name"`
	PriceMinor int64   `bson:"price_minor"`
	Quantity   int     `bson:"quantity"`
	Image      string  `bson:"image"`
	StoreID    string  `bson:"store_id"`
	StoreName  string  `bson:"store_name"`
	Offer      *string `bson:"offer"`
}

type deliveryPersonDocument struct {
	ID   string `bson:"id"`
	Name string `bson:"name"`
}

// orderDocument повторяет форму сохранённого заказа: позиции вложены в документ.
type orderDocument struct {
	ID              string                  `bson:"_id"`
	UserID          *string                 `bson:"user_id"`
	UserName        *string                 `bson:"user_name"`
	UserEmail       *string                 `bson:"user_email"`
	StoreID         string                  `bson:"store_id"`
	Items           []orderLineDocument     `bson:"items"`
	TotalMinor      int64                   `bson:"total_minor"`
	DeliveryAddress string                  `bson:"delivery_address"`
	Phone           string                  `bson:"phone"`
	Status          string                  `bson:"status"`
	OTP             string                  `bson:"otp"`
	DeliveryPerson  *deliveryPersonDocument `bson:"delivery_person"`
	Version         int64                   `bson:"version"`
	CreatedAt       time.Time               `bson:"created_at"`
	UpdatedAt       time.Time               `bson:"updated_at"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:              order.ID,
		UserID:          order.UserID,
		UserName:        order.UserName,
		UserEmail:       order.UserEmail,
		StoreID:         order.StoreID,
		Items:           make([]orderLineDocument, 0, len(order.Items)),
		TotalMinor:      order.TotalMinor,
		DeliveryAddress: order.DeliveryAddress,
		Phone:           order.Phone,
		Status:          string(order.Status),
		OTP:             order.OTP,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, line := range order.Items {
		doc.Items = append(doc.Items, orderLineDocument{
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
	if order.DeliveryPerson != nil {
		doc.DeliveryPerson = &deliveryPersonDocument{ID: order.DeliveryPerson.ID, Name: order.DeliveryPerson.Name}
	}
	return doc
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		ID:              d.ID,
		UserID:          d.UserID,
		UserName:        d.UserName,
		UserEmail:       d.UserEmail,
		StoreID:         d.StoreID,
		Items:           make([]domain.OrderLine, 0, len(d.Items)),
		TotalMinor:      d.TotalMinor,
		DeliveryAddress: d.DeliveryAddress,
		Phone:           d.Phone,
		Status:          domain.OrderStatus(d.Status),
		OTP:             d.OTP,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for _, line := range d.Items {
		order.Items = append(order.Items, domain.OrderLine{
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
	if d.DeliveryPerson != nil {
		order.DeliveryPerson = &domain.DeliveryPerson{ID: d.DeliveryPerson.ID, Name: d.DeliveryPerson.Name}
	}
	return order
}
