package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/rs/zerolog"
)

// ItemSource supplies the persisted catalog.
type ItemSource interface {
	ListItems(ctx context.Context) ([]models.Item, error)
}

// ItemService resolves item references for the booking engine.
type ItemService struct {
	source   ItemSource
	logger   *zerolog.Logger
	itemsMap map[int64]models.Item
	mu       sync.RWMutex
}

func NewItemService(source ItemSource, items []models.Item, logger *zerolog.Logger) *ItemService {
	s := &ItemService{source: source, logger: logger}
	s.set(items)
	return s
}

func (s *ItemService) set(items []models.Item) {
	itemsMap := make(map[int64]models.Item, len(items))
	for _, item := range items {
		itemsMap[item.ID] = item
	}
	s.mu.Lock()
	s.itemsMap = itemsMap
	s.mu.Unlock()
}

func (s *ItemService) GetItem(ctx context.Context, id int64) (models.ItemRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.itemsMap[id]
	if !ok {
		return models.ItemRef{}, fmt.Errorf("%w: %d", domain.ErrItemNotFound, id)
	}
	return item.Ref(), nil
}

// ListItems returns the catalog ordered by id.
func (s *ItemService) ListItems(ctx context.Context) []models.Item {
	s.mu.RLock()
	items := make([]models.Item, 0, len(s.itemsMap))
	for _, item := range s.itemsMap {
		items = append(items, item)
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Refresh reloads the catalog from the source, if any.
func (s *ItemService) Refresh(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	items, err := s.source.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh items: %w", err)
	}
	s.set(items)
	s.logger.Debug().Int("items", len(items)).Msg("item catalog refreshed")
	return nil
}
