package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
	"github.com/wolfman30/buyer-lead-intake/pkg/logging"
)

// Service applies ownership, staleness and validation rules around a Repository.
type Service struct {
	repo   Repository
	logger *logging.Logger
}

func NewService(repo Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("leads: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Create validates input and stores it owned by actor.
func (s *Service) Create(ctx context.Context, in BuyerInput, actor identity.Principal) (*Buyer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	b, err := s.repo.Create(ctx, NewBuyer{Lead: in.Lead(), OwnerID: actor.ID}, actor)
	if err != nil {
		return nil, err
	}
	s.logger.FromContext(ctx).Info("buyer created", "id", b.ID, "owner_id", actor.ID)
	return b, nil
}

// Get returns one buyer.
func (s *Service) Get(ctx context.Context, id string) (*Buyer, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of buyers and its pagination metadata.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Buyer, Pagination, error) {
	buyers, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, Pagination{}, err
	}
	return buyers, NewPagination(f, total), nil
}

// History returns the audit trail of a buyer.
func (s *Service) History(ctx context.Context, id string) ([]*HistoryEntry, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// UpdateRequest is a partial update. ClientUpdatedAt, when set, must match
// the stored record.
type UpdateRequest struct {
	Patch           map[string]json.RawMessage
	ClientUpdatedAt *time.Time
}

// ParseUpdateRequest splits the optional updatedAt from the patch fields.
func ParseUpdateRequest(body []byte) (UpdateRequest, error) {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(body, &patch); err != nil {
		return UpdateRequest{}, &ValidationError{Details: []string{"Invalid request body"}}
	}
	req := UpdateRequest{Patch: patch}
	if raw, ok := patch["updatedAt"]; ok {
		delete(patch, "updatedAt")
		var ts *time.Time
		if err := json.Unmarshal(raw, &ts); err != nil {
			return UpdateRequest{}, &ValidationError{Details: []string{"updatedAt: Invalid date"}}
		}
		req.ClientUpdatedAt = ts
	}
	return req, nil
}

// Update applies a partial update owned by actor. The merged record must
// pass full validation; history records only the fields that changed.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest, actor identity.Principal) (*Buyer, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != actor.ID {
		return nil, ErrForbidden
	}
	if req.ClientUpdatedAt != nil && !sameInstant(*req.ClientUpdatedAt, current.UpdatedAt) {
		return nil, ErrStaleData
	}

	before := current.Input()
	merged, keys, err := ApplyPatch(before, req.Patch)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	changes, err := Diff(before, merged, keys)
	if err != nil {
		return nil, fmt.Errorf("leads: diff: %w", err)
	}

	updated, err := s.repo.Update(ctx, id, current.UpdatedAt, merged.Lead(), changes, actor)
	if err != nil {
		return nil, err
	}
	s.logger.FromContext(ctx).Info("buyer updated", "id", id, "changed_fields", len(changes))
	return updated, nil
}

// Delete removes a buyer owned by actor together with its history.
func (s *Service) Delete(ctx context.Context, id string, actor identity.Principal) (*Buyer, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != actor.ID {
		return nil, ErrForbidden
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.FromContext(ctx).Info("buyer deleted", "id", id)
	return deleted, nil
}

// Export returns every buyer matching the filter, unpaginated.
func (s *Service) Export(ctx context.Context, f ListFilter) ([]*Buyer, error) {
	f.Page, f.PageSize = 0, 0
	buyers, _, err := s.repo.List(ctx, f)
	return buyers, err
}

// sameInstant compares timestamps at millisecond precision, the resolution
// clients round-trip.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}
