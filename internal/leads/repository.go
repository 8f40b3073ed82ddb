package leads

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
)

// Repository defines the interface for buyer storage. Every mutation writes
// its history row in the same unit of work.
type Repository interface {
	BatchWriter
	Create(ctx context.Context, nb NewBuyer, actor identity.Principal) (*Buyer, error)
	GetByID(ctx context.Context, id string) (*Buyer, error)
	// Update replaces the lead fields when the stored updated_at still equals
	// expected, returning ErrStaleData otherwise. History is written only when
	// changes is non-empty.
	Update(ctx context.Context, id string, expected time.Time, lead Lead, changes map[string]FieldChange, actor identity.Principal) (*Buyer, error)
	Delete(ctx context.Context, id string) (*Buyer, error)
	List(ctx context.Context, filter ListFilter) ([]*Buyer, int, error)
	History(ctx context.Context, buyerID string) ([]*HistoryEntry, error)
}

// InMemoryRepository is a Repository backed by maps, for tests and local runs.
type InMemoryRepository struct {
	mu      sync.RWMutex
	buyers  map[string]*Buyer
	history map[string][]*HistoryEntry
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		buyers:  make(map[string]*Buyer),
		history: make(map[string][]*HistoryEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *InMemoryRepository) insertLocked(nb NewBuyer) *Buyer {
	now := r.now()
	b := &Buyer{
		ID:        uuid.NewString(),
		Lead:      nb.Lead,
		OwnerID:   nb.OwnerID,
		UpdatedAt: now,
		CreatedAt: now,
	}
	if b.Tags == nil {
		b.Tags = []string{}
	}
	r.buyers[b.ID] = b
	return b
}

func (r *InMemoryRepository) recordLocked(buyerID string, actor identity.Principal, action string, changes any) error {
	diff, err := json.Marshal(HistoryDiff{Action: action, Changes: changes, User: actor.DisplayEmail()})
	if err != nil {
		return err
	}
	r.history[buyerID] = append(r.history[buyerID], &HistoryEntry{
		ID:        uuid.NewString(),
		BuyerID:   buyerID,
		ChangedBy: actor.ID,
		ChangedAt: r.now(),
		Diff:      diff,
	})
	return nil
}

// Create stores a buyer and its created history entry.
func (r *InMemoryRepository) Create(ctx context.Context, nb NewBuyer, actor identity.Principal) (*Buyer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.insertLocked(nb)
	if err := r.recordLocked(b.ID, actor, ActionCreated, nb); err != nil {
		delete(r.buyers, b.ID)
		return nil, err
	}
	out := *b
	return &out, nil
}

// ImportBatch stores all rows or none.
func (r *InMemoryRepository) ImportBatch(ctx context.Context, rows []NewBuyer, actor identity.Principal) ([]*Buyer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := make([]*Buyer, 0, len(rows))
	for _, nb := range rows {
		inserted = append(inserted, r.insertLocked(nb))
	}
	for _, b := range inserted {
		if err := r.recordLocked(b.ID, actor, ActionImported, b); err != nil {
			for _, ib := range inserted {
				delete(r.buyers, ib.ID)
				delete(r.history, ib.ID)
			}
			return nil, err
		}
	}
	out := make([]*Buyer, len(inserted))
	for i, b := range inserted {
		cp := *b
		out[i] = &cp
	}
	return out, nil
}

// GetByID retrieves a buyer by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Buyer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buyers[id]
	if !ok {
		return nil, ErrBuyerNotFound
	}
	out := *b
	return &out, nil
}

func (r *InMemoryRepository) Update(ctx context.Context, id string, expected time.Time, lead Lead, changes map[string]FieldChange, actor identity.Principal) (*Buyer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buyers[id]
	if !ok {
		return nil, ErrBuyerNotFound
	}
	if !b.UpdatedAt.Equal(expected) {
		return nil, ErrStaleData
	}
	if len(changes) > 0 {
		if err := r.recordLocked(id, actor, ActionUpdated, changes); err != nil {
			return nil, err
		}
	}
	b.Lead = lead
	if b.Tags == nil {
		b.Tags = []string{}
	}
	b.UpdatedAt = r.now()
	out := *b
	return &out, nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, id string) (*Buyer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buyers[id]
	if !ok {
		return nil, ErrBuyerNotFound
	}
	delete(r.history, id)
	delete(r.buyers, id)
	return b, nil
}

func (r *InMemoryRepository) List(ctx context.Context, f ListFilter) ([]*Buyer, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*Buyer
	for _, b := range r.buyers {
		if matches(b, f) {
			cp := *b
			matched = append(matched, &cp)
		}
	}
	slices.SortStableFunc(matched, compareFor(f.Sort))
	total := len(matched)
	if f.PageSize > 0 {
		start := min(f.Offset(), total)
		end := min(start+f.PageSize, total)
		matched = matched[start:end]
	}
	if matched == nil {
		matched = []*Buyer{}
	}
	return matched, total, nil
}

func (r *InMemoryRepository) History(ctx context.Context, buyerID string) ([]*HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.history[buyerID]
	out := make([]*HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func matches(b *Buyer, f ListFilter) bool {
	if f.City != "" && b.City != f.City {
		return false
	}
	if f.PropertyType != "" && b.PropertyType != f.PropertyType {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Timeline != "" && b.Timeline != f.Timeline {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		email := ""
		if b.Email != nil {
			email = *b.Email
		}
		if !strings.Contains(strings.ToLower(b.FullName), needle) &&
			!strings.Contains(b.Phone, needle) &&
			!strings.Contains(strings.ToLower(email), needle) {
			return false
		}
	}
	return true
}

func compareFor(sort string) func(a, b *Buyer) int {
	switch sort {
	case SortUpdatedAsc:
		return func(a, b *Buyer) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case SortBudgetAsc:
		return func(a, b *Buyer) int { return compareNullable(a.BudgetMin, b.BudgetMin) }
	case SortBudgetDesc:
		return func(a, b *Buyer) int { return -compareNullable(a.BudgetMax, b.BudgetMax) }
	case SortNameAsc:
		return func(a, b *Buyer) int { return cmp.Compare(a.FullName, b.FullName) }
	case SortNameDesc:
		return func(a, b *Buyer) int { return cmp.Compare(b.FullName, a.FullName) }
	default:
		return func(a, b *Buyer) int { return b.UpdatedAt.Compare(a.UpdatedAt) }
	}
}

// compareNullable orders nil after every value, as Postgres does for ASC.
func compareNullable(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*a, *b)
}
