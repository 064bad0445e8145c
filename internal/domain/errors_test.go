package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "tx conflict error", err: ErrTxConflict, want: true},
		{name: "wrapped tx conflict", err: fmt.Errorf("commit: %w", ErrTxConflict), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "idempotency already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "idempotency hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "wrapped idempotency conflict", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "non idempotency error", err: ErrOrderVersionConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = fmt.Errorf("tx: %w", &InsufficientStockError{ItemID: "b", ItemName: "Bread", Available: 0, Requested: 1})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("insufficient stock error must match ErrInsufficientStock")
	}
	if errors.Is(err, ErrItemNotFound) {
		t.Fatal("insufficient stock error must not match ErrItemNotFound")
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ItemID != "b" {
		t.Fatalf("errors.As failed: %v", err)
	}

	err = &ItemNotFoundError{ItemID: "x", ItemName: "Milk"}
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatal("item not found error must match ErrItemNotFound")
	}
}

func TestIsBusinessError(t *testing.T) {
	business := []error{
		ErrEmptyCart,
		ErrMixedStoreCart,
		ErrStorageUnavailable,
		&ItemNotFoundError{ItemID: "a"},
		fmt.Errorf("wrapped: %w", &InsufficientStockError{ItemID: "a"}),
	}
	for _, err := range business {
		if !IsBusinessError(err) {
			t.Errorf("expected business error: %v", err)
		}
	}

	infra := []error{ErrTxConflict, errors.New("connection reset"), ErrOrderPlacementFailed}
	for _, err := range infra {
		if IsBusinessError(err) {
			t.Errorf("expected infrastructure error: %v", err)
		}
	}
}

func TestIsReplayableFailure(t *testing.T) {
	replayable := []error{
		ErrEmptyCart,
		ErrLineAmountTooLarge,
		ErrOrderNotFound,
		ErrInvalidOTP,
		fmt.Errorf("update: %w", ErrInvalidTransition),
		&ItemNotFoundError{ItemID: "a"},
		&InsufficientStockError{ItemID: "a", Available: 1, Requested: 2},
	}
	for _, err := range replayable {
		if !IsReplayableFailure(err) {
			t.Errorf("expected replayable failure: %v", err)
		}
	}

	transient := []error{
		nil,
		ErrStorageUnavailable,
		fmt.Errorf("%w: %w", ErrOrderPlacementFailed, ErrTxConflict),
		fmt.Errorf("%w: %w", ErrOrderPlacementFailed, context.DeadlineExceeded),
		ErrOrderVersionConflict,
		context.Canceled,
		errors.New("connection reset"),
	}
	for _, err := range transient {
		if IsReplayableFailure(err) {
			t.Errorf("transient failure must not be replayed: %v", err)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{
			name: "insufficient stock names item and remaining",
			err:  fmt.Errorf("place: %w", &InsufficientStockError{ItemID: "b", ItemName: "Bread", Available: 2, Requested: 5}),
			want: "Not enough stock for Bread. Only 2 left.",
		},
		{name: "item not found", err: &ItemNotFoundError{ItemID: "x", ItemName: "Milk"}, want: "Item Milk not found."},
		{name: "empty cart generic", err: ErrEmptyCart, want: "Your cart is empty."},
		{name: "storage unavailable generic", err: ErrStorageUnavailable, want: "Service is temporarily unavailable. Please try again later."},
		{name: "amount overflow", err: ErrLineAmountTooLarge, want: "Order amount is too large. Please reduce the quantity."},
		{name: "invalid otp", err: ErrInvalidOTP, want: "Invalid OTP. Please check the code and try again."},
		{name: "fallback", err: fmt.Errorf("%w: %w", ErrOrderPlacementFailed, errors.New("boom")), want: "Failed to place order due to an unexpected error."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Fatalf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
