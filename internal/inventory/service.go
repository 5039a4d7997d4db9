package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, code string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	StockCard(ctx context.Context, code string, limit int) ([]MovementEntry, error)
}

// IdempotencyPort guards adjustments against double submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idempotency: idem, logger: logger}
}

// GetProduct returns a product by code.
func (s *Service) GetProduct(ctx context.Context, code string) (Product, error) {
	if code == "" {
		return Product{}, fmt.Errorf("inventory: product code required: %w", shared.ErrValidation)
	}
	return s.repo.GetProduct(ctx, code)
}

// ListProducts lists products.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// StockCard lists stock movements of a product, newest first.
func (s *Service) StockCard(ctx context.Context, code string, limit int) ([]MovementEntry, error) {
	if code == "" {
		return nil, fmt.Errorf("inventory: product code required: %w", shared.ErrValidation)
	}
	return s.repo.StockCard(ctx, code, limit)
}

// Adjust posts a manual stock correction which may be positive or negative.
// Reference makes the call idempotent.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (int64, error) {
	if input.ProductCode == "" || input.Reference == "" {
		return 0, fmt.Errorf("inventory: product and reference required: %w", shared.ErrValidation)
	}
	if input.Delta == 0 {
		return 0, ErrInvalidQuantity
	}
	key := fmt.Sprintf("ADJUST:%s:%s", input.ProductCode, input.Reference)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return 0, err
		}
		insertedKey = true
	}

	var balance int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = tx.ApplyMovement(ctx, Movement{
			ProductCode: input.ProductCode,
			Delta:       input.Delta,
			Reason:      MovementAdjustment,
			RefModule:   "inventory",
			Note:        input.Note,
		})
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return 0, err
	}
	s.logger.Info("stock adjusted",
		slog.String("product_code", input.ProductCode),
		slog.Int64("delta", input.Delta),
		slog.Int64("balance", balance),
		slog.String("reference", input.Reference),
	)
	return balance, nil
}
