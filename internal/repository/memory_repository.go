package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLineRepository implements LineRepository with in-memory storage.
type MemoryLineRepository struct {
	mu    sync.RWMutex
	carts map[string][]*Line // cartID -> lines in insertion order
	seq   int64
}

func NewMemoryLineRepository() *MemoryLineRepository {
	return &MemoryLineRepository{
		carts: make(map[string][]*Line),
	}
}

func (s *MemoryLineRepository) ListLines(_ context.Context, cartID string) ([]Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.carts[cartID]
	result := make([]Line, 0, len(lines))
	for _, l := range lines {
		result = append(result, *l)
	}
	return result, nil
}

func (s *MemoryLineRepository) GetLine(_ context.Context, cartID, lineID string) (*Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l := s.find(cartID, lineID)
	if l == nil {
		return nil, ErrLineNotFound
	}
	out := *l
	return &out, nil
}

func (s *MemoryLineRepository) InsertLine(_ context.Context, line *Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if line.ID == "" {
		line.ID = uuid.New().String()
	}
	s.seq++
	line.Position = s.seq
	line.CreatedAt = now
	line.UpdatedAt = now

	stored := *line
	s.carts[line.CartID] = append(s.carts[line.CartID], &stored)
	return nil
}

func (s *MemoryLineRepository) UpdateQuantity(_ context.Context, cartID, lineID string, quantity int64) (*Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.find(cartID, lineID)
	if l == nil {
		return nil, ErrLineNotFound
	}
	l.Quantity = quantity
	l.UpdatedAt = time.Now()
	out := *l
	return &out, nil
}

func (s *MemoryLineRepository) DeleteCart(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, cartID)
	return nil
}

func (s *MemoryLineRepository) find(cartID, lineID string) *Line {
	lines := s.carts[cartID]
	i := slices.IndexFunc(lines, func(l *Line) bool { return l.ID == lineID })
	if i < 0 {
		return nil
	}
	return lines[i]
}
