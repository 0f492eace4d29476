// internal/position/store.go
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrPositionExists   = errors.New("position already exists")
	ErrPositionNotFound = errors.New("position not found")
)

// Store owns every open position, keyed by token id.
//
// Single field updates are atomic through Update. A read-modify-write sequence
// that spans an external call (price fetch, sell) must additionally hold the
// token's lock obtained from Lock, so that the monitor loop and manual sells
// for the same token never interleave.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*Position
	order     []string

	locksMu sync.Mutex
	locks   map[string]*tokenLock

	trailingStopBase decimal.Decimal
	now              func() time.Time
	logger           *zap.Logger
}

type tokenLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates an empty store. New positions start with trailingStopBase
// as their stop multiplier.
func NewStore(trailingStopBase decimal.Decimal, logger *zap.Logger) *Store {
	return &Store{
		positions:        make(map[string]*Position),
		locks:            make(map[string]*tokenLock),
		trailingStopBase: trailingStopBase,
		now:              time.Now,
		logger:           logger.Named("position_store"),
	}
}

// Create registers a position for a confirmed buy. It fails with
// ErrPositionExists if the token already has one.
func (s *Store) Create(o Opening) (Position, error) {
	if o.TokenID == "" {
		return Position{}, errors.New("token id is required")
	}
	if !o.EntryNotional.IsPositive() {
		return Position{}, fmt.Errorf("entry notional must be positive, got %s", o.EntryNotional)
	}
	if o.EntryPrice.IsNegative() {
		return Position{}, fmt.Errorf("entry price must not be negative, got %s", o.EntryPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[o.TokenID]; exists {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionExists, o.TokenID)
	}

	now := s.now()
	p := &Position{
		TokenID:                o.TokenID,
		DisplayName:            o.DisplayName,
		Symbol:                 o.Symbol,
		Platform:               o.Platform,
		EntryNotional:          o.EntryNotional,
		EntryPrice:             o.EntryPrice,
		LastPrice:              o.EntryPrice,
		CurrentMultiplier:      one,
		HighestMultiplier:      one,
		RemainingPercent:       hundred,
		TrailingStopMultiplier: s.trailingStopBase,
		Status:                 StatusHolding,
		BuySignature:           o.BuySignature,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	s.positions[o.TokenID] = p
	s.order = append(s.order, o.TokenID)

	s.logger.Debug("Position created",
		zap.String("token", o.TokenID),
		zap.String("entry_notional", o.EntryNotional.String()),
		zap.String("entry_price", o.EntryPrice.String()))

	return *p, nil
}

// Get returns a snapshot of the token's position.
func (s *Store) Get(tokenID string) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[tokenID]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, tokenID)
	}
	return *p, nil
}

// Update runs mutate on a copy of the position and commits the copy only if
// mutate returns nil. A committed entry price can never change.
func (s *Store) Update(tokenID string, mutate func(p *Position) error) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.positions[tokenID]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, tokenID)
	}

	next := *current
	if err := mutate(&next); err != nil {
		return *current, err
	}
	if current.HasEntryPrice() && !next.EntryPrice.Equal(current.EntryPrice) {
		return *current, fmt.Errorf("entry price of %s is immutable", tokenID)
	}
	next.TokenID = current.TokenID
	next.UpdatedAt = s.now()

	*current = next
	return next, nil
}

// Remove deletes the token's position. Removing an absent token is a no-op.
func (s *Store) Remove(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[tokenID]; !ok {
		return
	}
	delete(s.positions, tokenID)
	for i, id := range s.order {
		if id == tokenID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.logger.Debug("Position removed", zap.String("token", tokenID))
}

// ListOpen returns snapshots of held positions in insertion order.
func (s *Store) ListOpen() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Position, 0, len(s.order))
	for _, id := range s.order {
		if p := s.positions[id]; p.IsOpen() {
			result = append(result, *p)
		}
	}
	return result
}

// Len returns the number of tracked positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Lock acquires the per-token lock and returns its release function.
func (s *Store) Lock(tokenID string) (unlock func()) {
	s.locksMu.Lock()
	l, ok := s.locks[tokenID]
	if !ok {
		l = &tokenLock{}
		s.locks[tokenID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			s.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, tokenID)
			}
			s.locksMu.Unlock()
		})
	}
}
