package domain

import (
	"math"
	"strings"
	"time"
)

// Item — товар магазина. Сток уменьшается только транзакцией оформления заказа
// и правками владельца магазина.
type Item struct {
	ID          string
	Name        string
	Description string
	Category    string
	PriceMinor  int64
	Stock       int
	Image       string
	StoreID     string
	StoreName   string
	Offer       *string
	Version     int64
	UpdatedAt   time.Time
}

// Validate проверяет поля товара перед сохранением.
func (i *Item) Validate() []error {
	var errs []error

	if strings.TrimSpace(i.Name) == "" {
		errs = append(errs, ErrItemNameRequired)
	}
	if strings.TrimSpace(i.StoreID) == "" {
		errs = append(errs, ErrStoreRequired)
	}
	if i.PriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if i.Stock < 0 {
		errs = append(errs, ErrNegativeStock)
	}

	return errs
}

// Clone возвращает копию без общих указателей.
func (i Item) Clone() Item {
	dst := i
	dst.Offer = cloneString(i.Offer)
	return dst
}

// CartLine — позиция корзины, собранная клиентом. Не хранится отдельно,
// является входом для оформления заказа.
type CartLine struct {
	ItemID     string
	Name       string
	PriceMinor int64
	Quantity   int
	Image      string
	StoreID    string
	StoreName  string
	Offer      *string
}

// Subtotal возвращает price×quantity позиции.
func (c CartLine) Subtotal() int64 {
	return c.PriceMinor * int64(c.Quantity)
}

// CheckedSubtotal — Subtotal с проверкой переполнения int64.
func (c CartLine) CheckedSubtotal() (int64, error) {
	if c.PriceMinor < 0 || c.Quantity < 0 {
		return 0, ErrItemPriceInvalid
	}
	if c.Quantity > 0 && c.PriceMinor > math.MaxInt64/int64(c.Quantity) {
		return 0, ErrLineAmountTooLarge
	}
	return c.Subtotal(), nil
}

// AddAmount складывает неотрицательные суммы в минорных единицах без переполнения.
func AddAmount(total, amount int64) (int64, error) {
	if amount > math.MaxInt64-total {
		return 0, ErrLineAmountTooLarge
	}
	return total + amount, nil
}

// OrderLine снимает денормализованный снимок позиции для записи в заказ.
func (c CartLine) OrderLine() OrderLine {
	return OrderLine{
		ItemID:     c.ItemID,
		Name:       c.Name,
		PriceMinor: c.PriceMinor,
		Quantity:   c.Quantity,
		Image:      c.Image,
		StoreID:    c.StoreID,
		StoreName:  c.StoreName,
		Offer:      cloneString(c.Offer),
	}
}

// ItemFilter задаёт выборку товаров каталога.
type ItemFilter struct {
	StoreID string
	Limit   int
}
