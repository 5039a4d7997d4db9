package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
	StateLog(ctx context.Context, id int64) ([]shared.StateLogEntry, error)
}

// Service orchestrates procurement flows that do not touch sales orders.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// CreatePOInput describes a manual purchase order.
type CreatePOInput struct {
	Number     string      `json:"number" validate:"omitempty,max=64"`
	SupplierID int64       `json:"supplier_id" validate:"required,gt=0"`
	Priority   Priority    `json:"priority" validate:"omitempty,oneof=NORMAL HIGH URGENT"`
	Note       string      `json:"note" validate:"max=255"`
	Lines      []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// AutomaticPORequest asks for replenishment of one product.
type AutomaticPORequest struct {
	ProductCode string
	SupplierID  int64
	Quantity    int64
	Priority    Priority
	Purpose     Purpose
	Note        string
}

// CreateManualPO persists a DRAFT purchase order raised by a person.
func (s *Service) CreateManualPO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := CreateOrder(ctx, tx, NewOrder{
			Number:     input.Number,
			SupplierID: input.SupplierID,
			OrderType:  OrderTypeManual,
			Purpose:    PurposeStandard,
			Priority:   input.Priority,
			Note:       input.Note,
			Lines:      input.Lines,
		}, s.now())
		created = po
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("purchase order created", slog.String("number", created.Number), slog.Int64("supplier_id", created.SupplierID))
	return created, nil
}

// CreateAutomaticPO returns the open automatic order for the product when one
// exists, otherwise it raises a new one. The boolean reports creation.
func (s *Service) CreateAutomaticPO(ctx context.Context, req AutomaticPORequest) (PurchaseOrder, bool, error) {
	if req.ProductCode == "" || req.Quantity <= 0 {
		return PurchaseOrder{}, false, fmt.Errorf("%w: product and positive quantity required", ErrValidation)
	}
	if req.Purpose == "" {
		req.Purpose = PurposeReorderPoint
	}
	var (
		po      PurchaseOrder
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindOpenAutomaticPO(ctx, req.ProductCode)
		switch {
		case err == nil:
			po = existing
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}
		po, err = CreateOrder(ctx, tx, NewOrder{
			SupplierID: req.SupplierID,
			OrderType:  OrderTypeAutomatic,
			Purpose:    req.Purpose,
			Priority:   req.Priority,
			Note:       req.Note,
			Lines:      []LineInput{{ProductCode: req.ProductCode, Quantity: req.Quantity}},
			Automated:  true,
		}, s.now())
		created = err == nil
		return err
	})
	if err != nil {
		return PurchaseOrder{}, false, err
	}
	if created {
		s.logger.Info("automatic purchase order created",
			slog.String("number", po.Number),
			slog.String("product_code", req.ProductCode),
			slog.Int64("quantity", req.Quantity),
			slog.String("purpose", string(po.Purpose)),
		)
	}
	return po, created, nil
}

// Send moves a DRAFT order to SENT.
func (s *Service) Send(ctx context.Context, id int64, note string) (PurchaseOrder, error) {
	var out TransitionOutcome
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = ApplyTransition(ctx, tx, noStock{}, TransitionCommand{POID: id, To: POStatusSent, Note: note}, s.now())
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return out.PO, nil
}

// Get returns a purchase order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// List returns purchase orders.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	return s.repo.ListPOs(ctx, filter)
}

// History returns the state log of a purchase order.
func (s *Service) History(ctx context.Context, id int64) ([]shared.StateLogEntry, error) {
	if _, err := s.repo.GetPO(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.StateLog(ctx, id)
}

type noStock struct{}

func (noStock) ApplyMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	return 0, fmt.Errorf("%w: %s cannot move stock", ErrInvalidState, m.Reason)
}
