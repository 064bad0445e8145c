package grpcsvc

import (
	storefrontv1 "github.com/vladislavdragonenkov/quickart/api/storefront/v1"
	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

func fromCartLine(line *storefrontv1.CartLine) domain.CartLine {
	return domain.CartLine{
		ItemID:     line.ItemID,
		Name:       line.Name,
		PriceMinor: line.PriceMinor,
		Quantity:   int(line.Quantity),
		Image:      line.Image,
		StoreID:    line.StoreID,
		StoreName:  line.StoreName,
		Offer:      line.Offer,
	}
}

func fromRequester(r *storefrontv1.Requester) *domain.Requester {
	if r == nil || r.ID == "" {
		return nil
	}
	return &domain.Requester{ID: r.ID, Name: r.Name, Email: r.Email}
}

// ToOrder переводит доменный заказ в сообщение API.
func ToOrder(order domain.Order) *storefrontv1.Order {
	items := make([]*storefrontv1.OrderLine, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, &storefrontv1.OrderLine{
			ItemID:     line.ItemID,
			Name:       line.Name,
			PriceMinor: line.PriceMinor,
			Quantity:   int32(line.Quantity), //nolint:gosec // quantities are validated as small positive ints.
			Image:      line.Image,
			StoreID:    line.StoreID,
			StoreName:  line.StoreName,
			Offer:      line.Offer,
		})
	}

	result := &storefrontv1.Order{
		ID:              order.ID,
		UserID:          order.UserID,
		UserName:        order.UserName,
		UserEmail:       order.UserEmail,
		StoreID:         order.StoreID,
		Items:           items,
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
		result.DeliveryPerson = &storefrontv1.DeliveryPerson{
			ID:   order.DeliveryPerson.ID,
			Name: order.DeliveryPerson.Name,
		}
	}
	return result
}
