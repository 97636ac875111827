package orderstate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localpepas/orderlink/internal/events"
	"github.com/localpepas/orderlink/internal/models"
)

// LogEntry is one time-stamped copy of an inbound event, kept for replay and
// debugging within the session.
type LogEntry struct {
	ID         string          `json:"id"`
	Name       string          `json:"event"`
	OrderID    string          `json:"orderId,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Store accumulates per-order state from classified events. The classifier
// goroutine is the only writer; readers get cloned snapshots, so a slightly
// stale read is fine and no reader ever observes a half-merged record.
type Store struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	log    []LogEntry
	wallet models.WalletSnapshot
	stock  map[string]models.StockEntry

	// retention bounds both the order map and the event log; zero keeps
	// everything for the session lifetime (the legacy behavior).
	retention time.Duration

	now func() time.Time
}

func NewStore(retention time.Duration) *Store {
	return &Store{
		orders:    map[string]*models.Order{},
		stock:     map[string]models.StockEntry{},
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply merges one classified event into state and appends it to the event
// log. Unknown events are logged but mutate nothing.
func (s *Store) Apply(ev events.Event, raw []byte) LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := LogEntry{
		ID:         uuid.NewString(),
		Name:       ev.EventName(),
		ReceivedAt: now,
	}
	if len(raw) > 0 {
		entry.Payload = append(json.RawMessage(nil), raw...)
	}

	switch e := ev.(type) {
	case events.PaymentRequest:
		entry.OrderID = e.OrderID
		o := s.ensureLocked(e.OrderID, now)
		o.Status = models.OrderStatusPagoProcesado
		if e.Amount > 0 {
			o.Total = e.Amount
		}
		o.PaidAt = &now
		mergeExtra(o, e.Extra)
		o.UpdatedAt = now

	case events.OrderAccepted:
		entry.OrderID = e.OrderID
		o := s.ensureLocked(e.OrderID, now)
		o.Status = statusOr(e.Status, models.OrderStatusAceptado)
		if e.Total != nil {
			o.Total = *e.Total
		}
		if len(e.Products) > 0 {
			o.Products = e.Products
		}
		o.AcceptedAt = &now
		mergeExtra(o, e.Extra)
		o.UpdatedAt = now

	case events.CourierAssigned:
		entry.OrderID = e.OrderID
		o := s.ensureLocked(e.OrderID, now)
		o.Status = statusOr(e.Status, models.OrderStatusAsignado)
		if e.Courier != nil {
			o.Courier = e.Courier
		}
		o.AssignedAt = &now
		mergeExtra(o, e.Extra)
		o.UpdatedAt = now

	case events.EnRoute:
		entry.OrderID = e.OrderID
		o := s.ensureLocked(e.OrderID, now)
		o.Status = statusOr(e.Status, models.OrderStatusEnCamino)
		o.EnRouteAt = &now
		mergeExtra(o, e.Extra)
		o.UpdatedAt = now

	case events.Delivered:
		entry.OrderID = e.OrderID
		o := s.ensureLocked(e.OrderID, now)
		o.Status = statusOr(e.Status, models.OrderStatusEntregado)
		o.DeliveredAt = &now
		mergeExtra(o, e.Extra)
		o.UpdatedAt = now

	case events.CoordinatesUpdate:
		entry.OrderID = e.OrderID
		o := s.ensureLocked(e.OrderID, now)
		o.Coords = &models.Coordinates{Latitude: e.Latitude, Longitude: e.Longitude, Timestamp: now}
		if e.Status != "" {
			o.Status = e.Status
		}
		mergeExtra(o, e.Extra)
		o.UpdatedAt = now

	case events.WalletResponse:
		// Балансы обновляем только на успешных ответах; get.balances — всегда.
		if e.Status == "SUCCESS" || e.Topic == events.NameGetBalances {
			if e.FiatBalance != nil {
				s.wallet.FiatBalance = *e.FiatBalance
			}
			if e.CryptoBalance != nil {
				s.wallet.CryptoBalance = *e.CryptoBalance
			}
			s.wallet.UpdatedAt = now
			s.wallet.LastTopic = e.Topic
		}

	case events.StockUpdate:
		s.stock[e.Entry.MerchantID+"|"+e.Entry.ProductID] = e.Entry

	case events.Unknown:
		slog.Info("unrecognized event", "name", e.Name)
	}

	s.log = append(s.log, entry)
	return entry
}

func (s *Store) ensureLocked(id string, now time.Time) *models.Order {
	o, ok := s.orders[id]
	if !ok {
		o = &models.Order{ID: id, ReceivedAt: now}
		s.orders[id] = o
	}
	return o
}

func statusOr(status, fallback string) string {
	if status != "" {
		return status
	}
	return fallback
}

func mergeExtra(o *models.Order, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if o.Extra == nil {
		o.Extra = map[string]any{}
	}
	for k, v := range extra {
		o.Extra[k] = v
	}
}

// Order returns a snapshot of one order.
func (s *Store) Order(id string) (*models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns snapshots of all orders, most recently touched first.
func (s *Store) Orders() []*models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return sortKey(out[i]).After(sortKey(out[j]))
	})
	return out
}

func sortKey(o *models.Order) time.Time {
	if o.AcceptedAt != nil {
		return *o.AcceptedAt
	}
	return o.ReceivedAt
}

func (s *Store) Wallet() models.WalletSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet
}

func (s *Store) Stock() []models.StockEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.StockEntry, 0, len(s.stock))
	for _, e := range s.stock {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MerchantID != out[j].MerchantID {
			return out[i].MerchantID < out[j].MerchantID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// Events returns the newest limit entries of the event log (all when limit<=0).
func (s *Store) Events(limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.log)
	if limit > 0 && limit < n {
		return append([]LogEntry(nil), s.log[n-limit:]...)
	}
	return append([]LogEntry(nil), s.log...)
}

// Sweep drops records with invalid keys and, when retention is set, records and
// log entries not touched within it. Returns how many orders were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, o := range s.orders {
		if id == "" || o == nil || o.ID == "" {
			delete(s.orders, id)
			removed++
			continue
		}
		if s.retention > 0 && now.Sub(o.UpdatedAt) > s.retention {
			delete(s.orders, id)
			removed++
		}
	}

	if s.retention > 0 {
		cut := 0
		for cut < len(s.log) && now.Sub(s.log[cut].ReceivedAt) > s.retention {
			cut++
		}
		if cut > 0 {
			s.log = append([]LogEntry(nil), s.log[cut:]...)
		}
	}
	return removed
}

// RunSweeper runs Sweep on a ticker until the context ends.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				slog.Info("order state sweep", "removed", n)
			}
		}
	}
}
