package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart — в корзине нет ни одной позиции.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMixedStoreCart — позиции корзины относятся к разным магазинам.
	ErrMixedStoreCart = errors.New("cart contains items from more than one store")
	// ErrInvalidQuantity — количество позиции должно быть больше нуля.
	ErrInvalidQuantity = errors.New("item quantity must be greater than zero")
	// ErrTotalMismatch — переданная сумма не совпадает с суммой позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// ErrInvalidPhone — телефон не является 10-значным номером.
	ErrInvalidPhone = errors.New("phone must be a 10-digit number")
	// ErrAddressRequired — не указан адрес доставки.
	ErrAddressRequired = errors.New("delivery address is required")
	// ErrItemIDRequired — не передан идентификатор товара.
	ErrItemIDRequired = errors.New("item id is required")
	// ErrItemNotFound — базовая ошибка для ItemNotFoundError.
	ErrItemNotFound = errors.New("item not found")
	// ErrInsufficientStock — базовая ошибка для InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrItemNameRequired — у товара нет названия.
	ErrItemNameRequired = errors.New("item name is required")
	// ErrStoreRequired — у товара не указан магазин.
	ErrStoreRequired = errors.New("store_id is required")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// ErrLineAmountTooLarge — сумма позиции или заказа не помещается в int64 минорных единиц.
	ErrLineAmountTooLarge = errors.New("order amount is too large")
	// ErrNegativeStock — остаток не может быть отрицательным.
	ErrNegativeStock = errors.New("item stock must be non-negative")
	// ErrOrderIDRequired — не передан идентификатор заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOTP — код подтверждения доставки не совпал.
	ErrInvalidOTP = errors.New("invalid delivery otp")
	// ErrInvalidTransition — переход статуса не разрешён машиной состояний.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrDeliveryPersonRequired — не указан курьер при назначении.
	ErrDeliveryPersonRequired = errors.New("delivery person id is required")
	// ErrOrderPlacementFailed — инфраструктурный сбой оформления (сеть, исчерпаны ретраи, отмена).
	ErrOrderPlacementFailed = errors.New("order placement failed")
	// ErrStorageUnavailable — хранилище не сконфигурировано или недоступно.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrTxConflict — транзакция не смогла закоммититься из-за конкурентной записи.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrReadAfterWrite — чтение внутри транзакции после первой записи.
	ErrReadAfterWrite = errors.New("transaction read after write")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// ItemNotFoundError — позиция корзины ссылается на несуществующий товар.
type ItemNotFoundError struct {
	ItemID   string
	ItemName string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %q (%s) not found", e.ItemName, e.ItemID)
}

// Is позволяет сравнивать через errors.Is(err, ErrItemNotFound).
func (e *ItemNotFoundError) Is(target error) bool {
	return target == ErrItemNotFound
}

// InsufficientStockError — остаток товара меньше запрошенного количества.
type InsufficientStockError struct {
	ItemID    string
	ItemName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (%s): available %d, requested %d",
		e.ItemName, e.ItemID, e.Available, e.Requested)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrTxConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsValidationError сообщает, что ошибка вызвана входными данными, а не инфраструктурой.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrEmptyCart, ErrMixedStoreCart, ErrInvalidQuantity, ErrTotalMismatch,
		ErrInvalidPhone, ErrAddressRequired, ErrItemNameRequired, ErrStoreRequired, ErrItemIDRequired,
		ErrItemPriceInvalid, ErrLineAmountTooLarge, ErrNegativeStock, ErrOrderIDRequired, ErrDeliveryPersonRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsBusinessError сообщает, что ошибка входит в закрытую таксономию оформления и
// возвращается вызывающему как есть.
func IsBusinessError(err error) bool {
	return IsValidationError(err) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrStorageUnavailable)
}

// IsReplayableFailure сообщает, что тот же запрос детерминированно получит тот же
// отказ, и ответ можно сохранить по ключу идемпотентности. Инфраструктурные сбои,
// конфликты транзакций и отмены сюда не входят: повтор может пройти.
func IsReplayableFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrOrderPlacementFailed),
		IsVersionConflict(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return IsValidationError(err) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidOTP)
}

// UserMessage формирует строку для показа пользователю.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return fmt.Sprintf("Not enough stock for %s. Only %d left.", stockErr.ItemName, stockErr.Available)
	}
	var missingErr *ItemNotFoundError
	if errors.As(err, &missingErr) {
		return fmt.Sprintf("Item %s not found.", missingErr.ItemName)
	}

	switch {
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty."
	case errors.Is(err, ErrStorageUnavailable):
		return "Service is temporarily unavailable. Please try again later."
	case errors.Is(err, ErrMixedStoreCart):
		return "All items in an order must come from the same store."
	case errors.Is(err, ErrInvalidPhone):
		return "Please enter a valid 10-digit phone number."
	case errors.Is(err, ErrAddressRequired):
		return "Please enter a delivery address."
	case errors.Is(err, ErrLineAmountTooLarge):
		return "Order amount is too large. Please reduce the quantity."
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrTotalMismatch):
		return "Your cart is out of date. Please review it and try again."
	case errors.Is(err, ErrOrderNotFound):
		return "Order not found."
	case errors.Is(err, ErrInvalidOTP):
		return "Invalid OTP. Please check the code and try again."
	case errors.Is(err, ErrInvalidTransition):
		return "This status change is not allowed."
	case errors.Is(err, ErrItemNotFound):
		return "Item not found."
	case IsValidationError(err):
		return "Invalid request: " + err.Error()
	}

	return "Failed to place order due to an unexpected error."
}
