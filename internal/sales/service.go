package sales

import (
	"context"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// RepositoryPort describes the reads used by Service.
type RepositoryPort interface {
	GetOrder(ctx context.Context, id int64) (SalesOrder, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]SalesOrder, error)
	StateLog(ctx context.Context, id int64) ([]shared.StateLogEntry, error)
}

// Service exposes sales order queries. Writes go through the cross-docking
// coordinator because they move stock and purchase orders together.
type Service struct {
	repo RepositoryPort
}

// NewService creates a new sales service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]SalesOrder, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, ErrValidation
	}
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) History(ctx context.Context, id int64) ([]shared.StateLogEntry, error) {
	if _, err := s.repo.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.StateLog(ctx, id)
}

func validStatus(status FulfillmentStatus) bool {
	if _, ok := fulfillmentTransitions[status]; ok {
		return true
	}
	return status.IsTerminal()
}
