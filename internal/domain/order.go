package domain

import (
	"regexp"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа с доставкой.
type OrderStatus string

const (
	// OrderStatusPlaced — заказ создан транзакцией оформления, сток уже списан.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusConfirmed — магазин подтвердил заказ.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusOutForDelivery — заказ передан курьеру (только через назначение курьера).
	OrderStatusOutForDelivery OrderStatus = "out-for-delivery"
	// OrderStatusDelivered — курьер подтвердил доставку кодом OTP. Терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
)

// orderStatusSequence задаёт единственно допустимый порядок статусов.
var orderStatusSequence = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusConfirmed,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

// OrderStatuses возвращает все статусы в порядке жизненного цикла.
func OrderStatuses() []OrderStatus {
	result := make([]OrderStatus, len(orderStatusSequence))
	copy(result, orderStatusSequence)
	return result
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	return s.index() >= 0
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered
}

// Next возвращает следующий статус цепочки или false для терминального/неизвестного.
func (s OrderStatus) Next() (OrderStatus, bool) {
	idx := s.index()
	if idx < 0 || idx+1 >= len(orderStatusSequence) {
		return "", false
	}
	return orderStatusSequence[idx+1], true
}

// CanTransitionTo разрешает только шаг ровно на один статус вперёд.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	expected, ok := s.Next()
	return ok && expected == next
}

func (s OrderStatus) index() int {
	for i, status := range orderStatusSequence {
		if status == s {
			return i
		}
	}
	return -1
}

// OrderLine — снимок позиции корзины на момент оформления; после создания заказа не меняется.
type OrderLine struct {
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
func (l OrderLine) Subtotal() int64 {
	return l.PriceMinor * int64(l.Quantity)
}

// Requester — авторизованный покупатель. nil означает гостевой заказ.
type Requester struct {
	ID    string
	Name  string
	Email string
}

// DeliveryPerson — курьер, назначенный на заказ.
type DeliveryPerson struct {
	ID   string
	Name string
}

// Order агрегирует состояние заказа.
type Order struct {
	ID              string
	UserID          *string
	UserName        *string
	UserEmail       *string
	StoreID         string
	Items           []OrderLine
	TotalMinor      int64
	DeliveryAddress string
	Phone           string
	Status          OrderStatus
	OTP             string
	DeliveryPerson  *DeliveryPerson
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemsTotal считает сумму позиций заказа.
func (o *Order) ItemsTotal() int64 {
	var total int64
	for _, line := range o.Items {
		total += line.Subtotal()
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrEmptyCart)
	}
	if strings.TrimSpace(o.DeliveryAddress) == "" {
		errs = append(errs, ErrAddressRequired)
	}
	if !ValidPhone(o.Phone) {
		errs = append(errs, ErrInvalidPhone)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidTransition)
	}

	for _, line := range o.Items {
		if line.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if o.ItemsTotal() != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию, чтобы хранилища не делили срезы и указатели с вызывающим кодом.
func (o Order) Clone() Order {
	dst := o
	dst.Items = make([]OrderLine, len(o.Items))
	for i, line := range o.Items {
		dst.Items[i] = line
		if line.Offer != nil {
			offer := *line.Offer
			dst.Items[i].Offer = &offer
		}
	}
	dst.UserID = cloneString(o.UserID)
	dst.UserName = cloneString(o.UserName)
	dst.UserEmail = cloneString(o.UserEmail)
	if o.DeliveryPerson != nil {
		person := *o.DeliveryPerson
		dst.DeliveryPerson = &person
	}
	return dst
}

// OrderFilter задаёт выборку заказов для дашбордов. Пустые поля не фильтруют.
type OrderFilter struct {
	StoreID          string
	UserID           string
	DeliveryPersonID string
	Statuses         []OrderStatus
	Limit            int
}

// Matches проверяет заказ против фильтра (используется in-memory хранилищем).
func (f OrderFilter) Matches(o Order) bool {
	if f.StoreID != "" && o.StoreID != f.StoreID {
		return false
	}
	if f.UserID != "" && (o.UserID == nil || *o.UserID != f.UserID) {
		return false
	}
	if f.DeliveryPersonID != "" && (o.DeliveryPerson == nil || o.DeliveryPerson.ID != f.DeliveryPersonID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if o.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var phonePattern = regexp.MustCompile(`^(?:\+91)?[0-9]{10}$`)

// ValidPhone принимает 10-значный номер, опционально с префиксом +91.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(strings.TrimSpace(phone))
}

// StringPtr возвращает указатель на непустую строку или nil.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
