package items

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// MemoryStore is an in-process item store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]models.Item
	nextID int64
}

// NewMemoryStore creates a store seeded with items. Seeded ids are kept.
func NewMemoryStore(seed ...models.Item) *MemoryStore {
	s := &MemoryStore{items: make(map[int64]models.Item)}
	for _, item := range seed {
		s.items[item.ID] = item
		if item.ID > s.nextID {
			s.nextID = item.ID
		}
	}
	return s
}

func (s *MemoryStore) FindItem(ctx context.Context, id int64) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, auction.ErrItemNotFound)
	}
	return &item, nil
}

func (s *MemoryStore) SaveItem(ctx context.Context, item *models.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return fmt.Errorf("item %d: %w", item.ID, auction.ErrItemNotFound)
	}
	s.items[item.ID] = *item
	return nil
}

func (s *MemoryStore) DeleteItem(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("item %d: %w", id, auction.ErrItemNotFound)
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) ListItems(ctx context.Context) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Item, 0, len(s.items))
	for _, item := range s.items {
		item := item
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateItem(ctx context.Context, req CreateItemRequest) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	item := models.Item{
		ID:            s.nextID,
		Description:   req.Description,
		CurrentBid:    req.CurrentBid,
		BuyNow:        req.BuyNow,
		RemainingTime: req.RemainingTime,
		Owner:         req.Owner,
	}
	s.items[item.ID] = item
	return &item, nil
}
