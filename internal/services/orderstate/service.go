package orderstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/localpepas/orderlink/internal/broker/messages"
	"github.com/localpepas/orderlink/internal/cache"
	"github.com/localpepas/orderlink/internal/events"
)

// Recorder is an optional sink for accepted events (kafka topic, pg archive).
// Recording is best-effort: a failing sink never blocks live state.
type Recorder interface {
	Record(ctx context.Context, msg messages.OrderEventRecorded) error
}

// Service glues the classifier to the store and serves projected views
// through an optional cache.
type Service struct {
	store     *Store
	cache     cache.BytesCache
	viewTTL   time.Duration
	recorders []Recorder
}

func New(store *Store, c cache.BytesCache, viewTTL time.Duration) *Service {
	return &Service{store: store, cache: c, viewTTL: viewTTL}
}

func (s *Service) WithRecorder(r Recorder) *Service {
	if r != nil {
		s.recorders = append(s.recorders, r)
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

// HandleMessage is the socket manager's message callback. Every failure in
// here is absorbed: bad frames are logged and dropped, never re-raised.
func (s *Service) HandleMessage(ctx context.Context, raw []byte) {
	ev, err := events.Classify(raw)
	if err != nil {
		switch {
		case errors.Is(err, events.ErrNoOrderID):
			slog.Warn("event dropped: no order id", "error", err.Error())
		case errors.Is(err, events.ErrMalformed):
			slog.Warn("event dropped: malformed payload", "error", err.Error())
		default:
			slog.Warn("event dropped", "error", err.Error())
		}
		return
	}

	entry := s.store.Apply(ev, raw)

	if entry.OrderID != "" {
		s.invalidateView(ctx, entry.OrderID)
	}

	for _, r := range s.recorders {
		msg := messages.OrderEventRecorded{
			EventID:    entry.ID,
			Name:       entry.Name,
			OrderID:    entry.OrderID,
			ReceivedAt: entry.ReceivedAt,
			Payload:    entry.Payload,
		}
		if err := r.Record(ctx, msg); err != nil {
			slog.Error("event recorder failed", "event", entry.Name, "error", err.Error())
		}
	}
}

// OrderView projects one order, serving from the cache when possible.
// Кэш — лучшее усилие: без него и при ошибках просто считаем заново.
func (s *Service) OrderView(ctx context.Context, orderID string) (OrderView, bool) {
	if s.cache != nil && s.viewTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, viewKey(orderID)); err == nil && ok {
			var v OrderView
			if json.Unmarshal(b, &v) == nil {
				return v, true
			}
		}
	}

	o, ok := s.store.Order(orderID)
	if !ok {
		return OrderView{}, false
	}
	v := ViewOf(o)

	if s.cache != nil && s.viewTTL > 0 {
		if b, err := json.Marshal(v); err == nil {
			_ = s.cache.Set(ctx, viewKey(orderID), b, s.viewTTL)
		}
	}
	return v, true
}

func (s *Service) invalidateView(ctx context.Context, orderID string) {
	if s.cache == nil || s.viewTTL <= 0 {
		return
	}
	if err := s.cache.Delete(ctx, viewKey(orderID)); err != nil {
		slog.Warn("view cache invalidation failed", "order_id", orderID, "error", err.Error())
	}
}

func viewKey(orderID string) string {
	return fmt.Sprintf("pedido:%s:view", orderID)
}
