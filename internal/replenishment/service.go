package replenishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/replenish/internal/demand"
	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/notify"
	"github.com/odyssey-erp/replenish/internal/platform/cache"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// ProductPort reads products and stores their reorder points.
type ProductPort interface {
	ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error)
	SetReorderPoint(ctx context.Context, code string, reorderPoint int64) error
}

// StatisticsPort computes demand statistics for one product.
type StatisticsPort interface {
	Statistics(ctx context.Context, input demand.Input) (demand.Statistics, []demand.Warning, error)
}

// ForecastStore persists forecasts.
type ForecastStore interface {
	UpsertForecast(ctx context.Context, f Forecast) error
	History(ctx context.Context, code string, from time.Time) ([]Forecast, error)
}

// Locker guards a product against concurrent recalculation.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// PurchasePort raises automatic purchase orders.
type PurchasePort interface {
	CreateAutomaticPO(ctx context.Context, req procurement.AutomaticPORequest) (procurement.PurchaseOrder, bool, error)
}

// AlertSink receives data-quality problems for operators.
type AlertSink interface {
	Alert(ctx context.Context, alert shared.OperatorAlert) error
}

// RunObserver records run outcomes, typically as metrics.
type RunObserver interface {
	AddReplenishment(updated, alerts, purchaseOrders, failures int)
}

// Config tunes the recalculation run.
type Config struct {
	LookbackDays   int
	HorizonDays    int
	TargetMultiple float64
	AutoPO         bool
	LockTTL        time.Duration
	Concurrency    int
}

// Deps groups the collaborators of Service. Locker, Cache, Purchases,
// Publisher, Alerts and Observer are optional.
type Deps struct {
	Products   ProductPort
	Statistics StatisticsPort
	Forecasts  ForecastStore
	Cache      *ForecastCache
	Locker     Locker
	Purchases  PurchasePort
	Publisher  notify.Publisher
	Alerts     AlertSink
	Observer   RunObserver
	Logger     *slog.Logger
}

// Service runs the reorder point engine and the forecast generator.
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewService validates cfg and builds Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Products == nil || deps.Statistics == nil || deps.Forecasts == nil {
		return nil, errors.New("replenishment: products, statistics and forecasts are required")
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = demand.DefaultWindowDays
	}
	if cfg.HorizonDays == 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	if cfg.TargetMultiple == 0 {
		cfg.TargetMultiple = DefaultTargetMultiple
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if err := (ForecastParams{HorizonDays: cfg.HorizonDays, TargetMultiple: cfg.TargetMultiple}).Validate(); err != nil {
		return nil, err
	}
	if cfg.LookbackDays < 0 {
		return nil, demand.ErrInvalidWindow
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.LogPublisher{Logger: deps.Logger}
	}
	return &Service{deps: deps, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// RunInput narrows a run to some products. Empty means every active product.
type RunInput struct {
	ProductCodes []string `json:"product_codes" validate:"omitempty,max=1000,dive,required"`
}

// RunError describes one product the run could not process.
type RunError struct {
	ProductCode string           `json:"product_code"`
	Kind        shared.ErrorKind `json:"kind"`
	Message     string           `json:"message"`
}

// RunResult aggregates a recalculation run.
type RunResult struct {
	ProductsUpdated int                 `json:"products_updated"`
	Alerts          []inventory.Product `json:"alerts"`
	Errors          []RunError          `json:"errors"`
	PurchaseOrders  []int64             `json:"purchase_orders,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
}

type outcome struct {
	product inventory.Product
	alert   bool
	poID    int64
	events  []notify.Event
}

// Recalculate recomputes reorder points and forecasts. Products fail
// independently: their errors are collected in the result and the run goes
// on. Only a failure to list products aborts the run.
func (s *Service) Recalculate(ctx context.Context, in RunInput) (RunResult, error) {
	result := RunResult{StartedAt: s.now(), Alerts: []inventory.Product{}, Errors: []RunError{}}
	products, err := s.deps.Products.ListProducts(ctx, inventory.ProductFilter{OnlyActive: true})
	if err != nil {
		return result, fmt.Errorf("replenishment: list products: %w", err)
	}
	products, missing := selectProducts(products, in.ProductCodes)
	stranded, err := s.deps.Products.ListProducts(ctx, inventory.ProductFilter{DiscontinuedBackordered: true})
	if err != nil {
		return result, fmt.Errorf("replenishment: list discontinued backorders: %w", err)
	}
	stranded, _ = selectProducts(stranded, in.ProductCodes)
	reported := make(map[string]bool, len(stranded))
	for _, p := range stranded {
		reported[p.Code] = true
		err := fmt.Errorf("replenishment: discontinued product %s still has backordered sales lines: %w", p.Code, shared.ErrDataQuality)
		result.Errors = append(result.Errors, RunError{ProductCode: p.Code, Kind: shared.KindOf(err), Message: err.Error()})
		s.alert(ctx, shared.OperatorAlert{
			Kind:        shared.AlertDiscontinuedBackorder,
			ProductCode: p.Code,
			Message:     fmt.Sprintf("product %s was discontinued while sales lines wait for it; cancel or substitute them", p.Code),
		})
	}
	for _, code := range missing {
		if reported[code] {
			continue
		}
		result.Errors = append(result.Errors, RunError{ProductCode: code, Kind: shared.KindNotFound, Message: "product not found or discontinued"})
	}

	var (
		mu       sync.Mutex
		outcomes []outcome
	)
	day := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, p := range products {
		g.Go(func() error {
			out, err := s.recalculateProduct(gctx, p, day)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, RunError{ProductCode: p.Code, Kind: shared.KindOf(err), Message: err.Error()})
				return nil
			}
			outcomes = append(outcomes, out)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].product.Code < outcomes[j].product.Code })
	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].ProductCode < result.Errors[j].ProductCode })
	var events []notify.Event
	for _, out := range outcomes {
		result.ProductsUpdated++
		if out.alert {
			result.Alerts = append(result.Alerts, out.product)
		}
		if out.poID != 0 {
			result.PurchaseOrders = append(result.PurchaseOrders, out.poID)
		}
		events = append(events, out.events...)
	}

	if len(events) > 0 {
		if err := s.deps.Publisher.Publish(ctx, events...); err != nil {
			s.deps.Logger.Error("publish replenishment events", slog.Any("error", err))
		}
	}
	if result.ProductsUpdated > 0 {
		if err := s.deps.Cache.Bump(ctx); err != nil {
			s.deps.Logger.Warn("bump forecast cache", slog.Any("error", err))
		}
	}
	if s.deps.Observer != nil {
		s.deps.Observer.AddReplenishment(result.ProductsUpdated, len(result.Alerts), len(result.PurchaseOrders), len(result.Errors))
	}
	result.FinishedAt = s.now()
	s.deps.Logger.Info("replenishment run finished",
		slog.Int("products_updated", result.ProductsUpdated),
		slog.Int("alerts", len(result.Alerts)),
		slog.Int("purchase_orders", len(result.PurchaseOrders)),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("took", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (s *Service) recalculateProduct(ctx context.Context, p inventory.Product, day time.Time) (outcome, error) {
	logger := s.deps.Logger.With(slog.String("product_code", p.Code))
	if s.deps.Locker != nil {
		release, err := s.deps.Locker.Obtain(ctx, shared.RecalcLockKey(p.Code), s.cfg.LockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			return outcome{}, fmt.Errorf("replenishment: %s is being recalculated elsewhere: %w", p.Code, shared.ErrRetryable)
		}
		if err != nil {
			return outcome{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release recalculation lock", slog.Any("error", err))
			}
		}()
	}

	input := demand.Input{ProductCode: p.Code, AsOf: day, WindowDays: s.cfg.LookbackDays}
	if p.Supplier != nil {
		input.LeadTimeNormalDays = p.Supplier.LeadTimeNormalDays
		input.LeadTimeMaxDays = p.Supplier.LeadTimeMaxDays
	}
	stats, warnings, err := s.deps.Statistics.Statistics(ctx, input)
	if err != nil {
		if errors.Is(err, demand.ErrMissingLeadTime) {
			s.alert(ctx, shared.OperatorAlert{
				Kind:        shared.AlertMissingLeadTime,
				ProductCode: p.Code,
				Message:     fmt.Sprintf("product %s skipped: supplier lead time not configured", p.Code),
			})
		}
		return outcome{}, err
	}
	for _, w := range warnings {
		logger.Warn("demand statistics warning", slog.String("code", string(w.Code)), slog.String("message", w.Message))
		kind := shared.AlertDemandAnomaly
		if w.Code == demand.WarningLeadTimeCoerced {
			kind = shared.AlertLeadTimeCoerced
		}
		s.alert(ctx, shared.OperatorAlert{Kind: kind, ProductCode: p.Code, Message: w.Message})
	}

	rop := ComputeReorderPoint(stats)
	if err := s.deps.Products.SetReorderPoint(ctx, p.Code, rop.Value); err != nil {
		return outcome{}, fmt.Errorf("replenishment: store reorder point: %w", err)
	}
	params := ForecastParams{HorizonDays: s.cfg.HorizonDays, TargetMultiple: s.cfg.TargetMultiple}
	forecast := BuildForecast(p.Code, p.Stock, stats, rop, params, day)
	if err := s.deps.Forecasts.UpsertForecast(ctx, forecast); err != nil {
		return outcome{}, fmt.Errorf("replenishment: store forecast: %w", err)
	}

	wasAlert := p.ReorderPoint != nil && p.Stock <= *p.ReorderPoint
	value := rop.Value
	p.ReorderPoint = &value
	out := outcome{product: p, alert: forecast.ReorderAlert}
	if !forecast.ReorderAlert {
		return out, nil
	}
	priority := procurement.PriorityNormal
	if p.Stock == 0 {
		priority = procurement.PriorityUrgent
	}
	if !wasAlert {
		out.events = append(out.events, notify.Event{
			EventType:   notify.EventROPTrigger,
			ProductCode: p.Code,
			Quantity:    forecast.SuggestedReorderQty,
			Priority:    string(priority),
			OccurredAt:  s.now(),
		})
	}
	if s.cfg.AutoPO && s.deps.Purchases != nil && forecast.SuggestedReorderQty > 0 {
		if !p.HasActiveSupplier() {
			s.alert(ctx, shared.OperatorAlert{
				Kind:        shared.AlertNoSupplier,
				ProductCode: p.Code,
				Message:     fmt.Sprintf("product %s needs %d units but has no active supplier", p.Code, forecast.SuggestedReorderQty),
			})
			return out, nil
		}
		po, created, err := s.deps.Purchases.CreateAutomaticPO(ctx, procurement.AutomaticPORequest{
			ProductCode: p.Code,
			SupplierID:  *p.SupplierID,
			Quantity:    forecast.SuggestedReorderQty,
			Priority:    priority,
			Purpose:     procurement.PurposeReorderPoint,
			Note:        "reorder point " + strconv.FormatInt(rop.Value, 10),
		})
		if err != nil {
			return outcome{}, fmt.Errorf("replenishment: raise purchase order: %w", err)
		}
		if created {
			out.poID = po.ID
			out.events = append(out.events, notify.Event{
				EventType:       notify.EventPOGenerated,
				ProductCode:     p.Code,
				Quantity:        forecast.SuggestedReorderQty,
				Priority:        string(po.Priority),
				PurchaseOrderID: po.ID,
				OccurredAt:      s.now(),
			})
		}
	}
	return out, nil
}

func (s *Service) alert(ctx context.Context, a shared.OperatorAlert) {
	if s.deps.Alerts == nil {
		s.deps.Logger.Warn("operator alert", slog.String("kind", string(a.Kind)), slog.String("product_code", a.ProductCode), slog.String("message", a.Message))
		return
	}
	if err := s.deps.Alerts.Alert(ctx, a); err != nil {
		s.deps.Logger.Error("record operator alert", slog.String("kind", string(a.Kind)), slog.Any("error", err))
	}
}

// History returns the forecasts of the last days days, newest first.
func (s *Service) History(ctx context.Context, code string, days int) ([]Forecast, error) {
	if code == "" {
		return nil, fmt.Errorf("replenishment: product code required: %w", shared.ErrValidation)
	}
	if days <= 0 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	key, err := s.deps.Cache.BuildKey(ctx, "replenish", "forecast", code, strconv.Itoa(days))
	if err != nil {
		return nil, err
	}
	from := forecastDay(s.now()).AddDate(0, 0, -(days - 1))
	var out []Forecast
	err = s.deps.Cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		rows, err := s.deps.Forecasts.History(ctx, code, from)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []Forecast{}
		}
		return rows, nil
	})
	return out, err
}

func selectProducts(products []inventory.Product, codes []string) ([]inventory.Product, []string) {
	if len(codes) == 0 {
		return products, nil
	}
	byCode := make(map[string]inventory.Product, len(products))
	for _, p := range products {
		byCode[p.Code] = p
	}
	var (
		selected []inventory.Product
		missing  []string
		seen     = map[string]bool{}
	)
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true
		p, ok := byCode[code]
		if !ok {
			missing = append(missing, code)
			continue
		}
		selected = append(selected, p)
	}
	return selected, missing
}
