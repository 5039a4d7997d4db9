package crossdock

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// memoryStore is an in-memory stand-in for the three repositories. Do runs
// units of work one at a time and rolls back on error.
type memoryStore struct {
	mu        sync.Mutex
	products  map[string]inventory.Product
	movements []inventory.Movement
	pos       map[int64]procurement.PurchaseOrder
	orders    map[int64]sales.SalesOrder
	logs      []shared.StateLogEntry
	nextID    int64
}

func newMemoryStore(products ...inventory.Product) *memoryStore {
	s := &memoryStore{
		products: map[string]inventory.Product{},
		pos:      map[int64]procurement.PurchaseOrder{},
		orders:   map[int64]sales.SalesOrder{},
	}
	for _, p := range products {
		s.products[p.Code] = p
	}
	return s
}

type memorySnapshot struct {
	products  map[string]inventory.Product
	movements int
	pos       map[int64]procurement.PurchaseOrder
	orders    map[int64]sales.SalesOrder
	logs      int
	nextID    int64
}

func (s *memoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		products:  map[string]inventory.Product{},
		movements: len(s.movements),
		pos:       map[int64]procurement.PurchaseOrder{},
		orders:    map[int64]sales.SalesOrder{},
		logs:      len(s.logs),
		nextID:    s.nextID,
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.pos {
		snap.pos[k] = clonePO(v)
	}
	for k, v := range s.orders {
		snap.orders[k] = cloneOrder(v)
	}
	return snap
}

func (s *memoryStore) restore(snap memorySnapshot) {
	s.products = snap.products
	s.movements = s.movements[:snap.movements]
	s.pos = snap.pos
	s.orders = snap.orders
	s.logs = s.logs[:snap.logs]
	s.nextID = snap.nextID
}

func (s *memoryStore) Do(ctx context.Context, fn func(context.Context, Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(ctx, memoryTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func clonePO(po procurement.PurchaseOrder) procurement.PurchaseOrder {
	po.Lines = append([]procurement.POLine(nil), po.Lines...)
	return po
}

func cloneOrder(o sales.SalesOrder) sales.SalesOrder {
	o.Items = append([]sales.Item(nil), o.Items...)
	return o
}

// read helpers for assertions

func (s *memoryStore) stock(code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[code].Stock
}

func (s *memoryStore) order(id int64) sales.SalesOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *memoryStore) po(id int64) procurement.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePO(s.pos[id])
}

func (s *memoryStore) purchaseOrders() []procurement.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]procurement.PurchaseOrder, 0, len(s.pos))
	for _, po := range s.pos {
		out = append(out, clonePO(po))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) orderLog(kind shared.OrderKind, id int64) []shared.StateLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shared.StateLogEntry
	for _, e := range s.logs {
		if e.OrderKind == kind && e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

type memoryTx struct{ s *memoryStore }

func (t memoryTx) Products() inventory.TxRepository         { return memoryProducts{t.s} }
func (t memoryTx) PurchaseOrders() procurement.TxRepository { return memoryPurchases{t.s} }
func (t memoryTx) SalesOrders() sales.TxRepository          { return memorySales{t.s} }

type memoryProducts struct{ s *memoryStore }

func (m memoryProducts) GetProduct(ctx context.Context, code string) (inventory.Product, error) {
	p, ok := m.s.products[code]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (m memoryProducts) GetProductForUpdate(ctx context.Context, code string) (inventory.Product, error) {
	return m.GetProduct(ctx, code)
}

func (m memoryProducts) ApplyMovement(ctx context.Context, mv inventory.Movement) (int64, error) {
	p, ok := m.s.products[mv.ProductCode]
	if !ok {
		return 0, inventory.ErrProductNotFound
	}
	if p.Stock+mv.Delta < 0 {
		return p.Stock, &inventory.ShortageError{ProductCode: p.Code, Available: p.Stock, Requested: -mv.Delta}
	}
	p.Stock += mv.Delta
	m.s.products[p.Code] = p
	m.s.movements = append(m.s.movements, mv)
	return p.Stock, nil
}

type memoryPurchases struct{ s *memoryStore }

func (m memoryPurchases) CreatePO(ctx context.Context, po procurement.PurchaseOrder) (int64, error) {
	po.ID = m.s.id()
	m.s.pos[po.ID] = po
	return po.ID, nil
}

func (m memoryPurchases) InsertPOLine(ctx context.Context, line procurement.POLine) (int64, error) {
	line.ID = m.s.id()
	po := m.s.pos[line.POID]
	po.Lines = append(po.Lines, line)
	m.s.pos[po.ID] = po
	return line.ID, nil
}

func (m memoryPurchases) GetPOForUpdate(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := m.s.pos[id]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	return clonePO(po), nil
}

func (m memoryPurchases) FindOpenAutomaticPO(ctx context.Context, productCode string) (procurement.PurchaseOrder, error) {
	var (
		best  procurement.PurchaseOrder
		spare int64
	)
	for _, po := range m.s.pos {
		if po.OrderType != procurement.OrderTypeAutomatic || !po.Status.IsOpen() {
			continue
		}
		line, ok := po.Line(productCode)
		if !ok {
			continue
		}
		if s := line.OrderedQty - line.ReservedQty; s > spare || (s == spare && po.ID < best.ID) {
			best, spare = po, s
		}
	}
	if spare == 0 {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	return clonePO(best), nil
}

func (m memoryPurchases) UpdatePOStatus(ctx context.Context, id int64, status procurement.POStatus, closeReason string) error {
	po := m.s.pos[id]
	po.Status = status
	po.CloseReason = closeReason
	m.s.pos[id] = po
	return nil
}

func (m memoryPurchases) UpdateLine(ctx context.Context, line procurement.POLine) error {
	po := clonePO(m.s.pos[line.POID])
	for i := range po.Lines {
		if po.Lines[i].ID == line.ID {
			po.Lines[i] = line
		}
	}
	m.s.pos[po.ID] = po
	return nil
}

func (m memoryPurchases) AppendStateLog(ctx context.Context, entry shared.StateLogEntry) error {
	m.s.logs = append(m.s.logs, entry)
	return nil
}

type memorySales struct{ s *memoryStore }

func (m memorySales) CreateOrder(ctx context.Context, order sales.SalesOrder) (int64, error) {
	order.ID = m.s.id()
	order.Items = nil
	m.s.orders[order.ID] = order
	return order.ID, nil
}

func (m memorySales) InsertItem(ctx context.Context, item sales.Item) (int64, error) {
	item.ID = m.s.id()
	order := cloneOrder(m.s.orders[item.OrderID])
	order.Items = append(order.Items, item)
	m.s.orders[order.ID] = order
	return item.ID, nil
}

func (m memorySales) GetOrderForUpdate(ctx context.Context, id int64) (sales.SalesOrder, error) {
	o, ok := m.s.orders[id]
	if !ok {
		return sales.SalesOrder{}, sales.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m memorySales) FindByRequestKey(ctx context.Context, key string) (sales.SalesOrder, error) {
	for _, o := range m.s.orders {
		if o.RequestKey == key {
			return cloneOrder(o), nil
		}
	}
	return sales.SalesOrder{}, sales.ErrNotFound
}

func (m memorySales) UpdateItem(ctx context.Context, item sales.Item) error {
	order := cloneOrder(m.s.orders[item.OrderID])
	for i := range order.Items {
		if order.Items[i].ID == item.ID {
			order.Items[i] = item
		}
	}
	m.s.orders[order.ID] = order
	return nil
}

func (m memorySales) UpdateFulfillmentStatus(ctx context.Context, id int64, status sales.FulfillmentStatus) error {
	o, ok := m.s.orders[id]
	if !ok {
		return sales.ErrNotFound
	}
	o.FulfillmentStatus = status
	m.s.orders[id] = o
	return nil
}

func (m memorySales) backorders(match func(sales.Item) bool) []sales.Item {
	ids := make([]int64, 0, len(m.s.orders))
	for id := range m.s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []sales.Item
	for _, id := range ids {
		o := m.s.orders[id]
		if o.FulfillmentStatus == sales.FulfillmentCancelled {
			continue
		}
		for _, it := range o.Items {
			if it.IsBackorder && match(it) {
				out = append(out, it)
			}
		}
	}
	return out
}

func (m memorySales) ListBackordersByPO(ctx context.Context, poID int64) ([]sales.Item, error) {
	return m.backorders(func(it sales.Item) bool {
		return it.LinkedPurchaseOrderID != nil && *it.LinkedPurchaseOrderID == poID
	}), nil
}

func (m memorySales) ListUnlinkedBackorders(ctx context.Context, productCode string) ([]sales.Item, error) {
	return m.backorders(func(it sales.Item) bool {
		return it.ProductCode == productCode && it.LinkedPurchaseOrderID == nil
	}), nil
}

func (m memorySales) AppendStateLog(ctx context.Context, entry shared.StateLogEntry) error {
	m.s.logs = append(m.s.logs, entry)
	return nil
}
