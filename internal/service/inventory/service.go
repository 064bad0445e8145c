// Package inventory — правки каталога владельцем магазина и поиск товаров.
package inventory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

// AddItemInput — новый товар магазина.
type AddItemInput struct {
	Name        string
	Description string
	Category    string
	PriceMinor  int64
	Stock       int
	Image       string
	StoreID     string
	StoreName   string
	Offer       *string
}

// UpdateItemInput — редактируемые владельцем поля товара.
type UpdateItemInput struct {
	ID          string
	Name        string
	Description string
	Category    string
	PriceMinor  int64
	Stock       int
}

// Service управляет каталогом товаров.
type Service struct {
	store  domain.DocumentStore
	logger *log.Entry
	newID  func() string
}

// NewService создаёт сервис каталога.
func NewService(store domain.DocumentStore, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "inventory")
	}
	return &Service{store: store, logger: logger, newID: uuid.NewString}
}

// AddItem проверяет и сохраняет новый товар со сгенерированным id.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (domain.Item, error) {
	if s.store == nil {
		return domain.Item{}, domain.ErrStorageUnavailable
	}

	item := domain.Item{
		ID:          s.newID(),
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		PriceMinor:  input.PriceMinor,
		Stock:       input.Stock,
		Image:       input.Image,
		StoreID:     strings.TrimSpace(input.StoreID),
		StoreName:   strings.TrimSpace(input.StoreName),
		Offer:       input.Offer,
	}
	if errs := item.Validate(); len(errs) > 0 {
		return domain.Item{}, errors.Join(errs...)
	}

	saved, err := s.store.PutItem(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}
	s.logger.WithFields(log.Fields{
		"item_id":  saved.ID,
		"store_id": saved.StoreID,
		"stock":    saved.Stock,
	}).Info("item added")
	return saved, nil
}

// UpdateItem перезаписывает редактируемые поля. Магазин, картинка и оффер не меняются.
func (s *Service) UpdateItem(ctx context.Context, input UpdateItemInput) (domain.Item, error) {
	if s.store == nil {
		return domain.Item{}, domain.ErrStorageUnavailable
	}
	if strings.TrimSpace(input.ID) == "" {
		return domain.Item{}, domain.ErrItemIDRequired
	}

	item, err := s.store.GetItem(ctx, input.ID)
	if err != nil {
		return domain.Item{}, err
	}

	item.Name = strings.TrimSpace(input.Name)
	item.Description = strings.TrimSpace(input.Description)
	item.Category = strings.TrimSpace(input.Category)
	item.PriceMinor = input.PriceMinor
	item.Stock = input.Stock
	if errs := item.Validate(); len(errs) > 0 {
		return domain.Item{}, errors.Join(errs...)
	}

	saved, err := s.store.PutItem(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}
	s.logger.WithFields(log.Fields{
		"item_id": saved.ID,
		"stock":   saved.Stock,
	}).Info("item updated")
	return saved, nil
}

// GetItem возвращает товар по id.
func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	if s.store == nil {
		return domain.Item{}, domain.ErrStorageUnavailable
	}
	return s.store.GetItem(ctx, id)
}

// ListStoreItems возвращает товары магазина.
func (s *Service) ListStoreItems(ctx context.Context, storeID string) ([]domain.Item, error) {
	if s.store == nil {
		return nil, domain.ErrStorageUnavailable
	}
	if strings.TrimSpace(storeID) == "" {
		return nil, domain.ErrStoreRequired
	}
	return s.store.ListItems(ctx, domain.ItemFilter{StoreID: storeID})
}

// SearchItems ищет товары, у которых название или описание содержит хотя бы одно
// слово запроса (без учёта регистра). Пустой запрос возвращает весь каталог.
func (s *Service) SearchItems(ctx context.Context, query string) ([]domain.Item, error) {
	if s.store == nil {
		return nil, domain.ErrStorageUnavailable
	}

	items, err := s.store.ListItems(ctx, domain.ItemFilter{})
	if err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return items, nil
	}

	result := make([]domain.Item, 0, len(items))
	for _, item := range items {
		text := strings.ToLower(item.Name + " " + item.Description)
		for _, term := range terms {
			if strings.Contains(text, term) {
				result = append(result, item)
				break
			}
		}
	}
	return result, nil
}
