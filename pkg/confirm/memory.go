package confirm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps tickets in process memory behind a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	active  map[string]string // ticket key → ticket id
	keys    map[string]string // ticket id → ticket key
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryStore creates a store whose tickets live for ttl (DefaultTTL if
// ttl is not positive).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		tickets: make(map[string]*Ticket),
		active:  make(map[string]string),
		keys:    make(map[string]string),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) RequestConfirmation(ctx context.Context, tenantID, conversationID, userID, operationName string, params map[string]string) (Ticket, error) {
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}
	key, err := ticketKey(tenantID, conversationID, userID, operationName, params)
	if err != nil {
		return Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if id, ok := s.active[key]; ok {
		if t := s.tickets[id]; t != nil && !t.Consumed && !t.Expired(now) {
			return t.clone(), nil
		}
		delete(s.active, key)
	}

	t := Ticket{
		TicketID:         uuid.New().String(),
		TenantID:         tenantID,
		ConversationID:   conversationID,
		UserID:           userID,
		OperationName:    operationName,
		TargetParameters: params,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.ttl),
	}.clone()
	s.tickets[t.TicketID] = &t
	s.active[key] = t.TicketID
	s.keys[t.TicketID] = key
	return t.clone(), nil
}

func (s *MemoryStore) Consume(ctx context.Context, ticketID string) (Ticket, error) {
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	// expiry wins so a dead ticket always reads as expired
	if t.Expired(s.clock()) {
		return Ticket{}, ErrExpired
	}
	if t.Consumed {
		return Ticket{}, ErrAlreadyConsumed
	}

	t.Consumed = true
	if key := s.keys[ticketID]; s.active[key] == ticketID {
		delete(s.active, key)
	}
	return t.clone(), nil
}

// Len returns the number of retained tickets, live or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// Sweep drops tickets whose deadline has passed and returns how many were
// removed. A swept ticket is reported as ErrNotFound afterwards.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	n := 0
	for id, t := range s.tickets {
		if !t.Expired(now) {
			continue
		}
		key := s.keys[id]
		if s.active[key] == id {
			delete(s.active, key)
		}
		delete(s.keys, id)
		delete(s.tickets, id)
		n++
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	log := slog.Default().With("component", "confirm")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.DebugContext(ctx, "swept expired tickets", "count", n)
			}
		}
	}
}
