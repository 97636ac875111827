package pgevents

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/localpepas/orderlink/internal/broker/messages"
)

// Record archives one event. Replays are harmless: the event id makes the
// insert idempotent.
func (s *Storage) Record(ctx context.Context, msg messages.OrderEventRecorded) error {
	var payload any
	if len(msg.Payload) > 0 {
		var m any
		if json.Unmarshal(msg.Payload, &m) == nil {
			payload = m
		}
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO order_events (event_id, name, order_id, received_at, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_id) DO NOTHING
`, msg.EventID, msg.Name, msg.OrderID, msg.ReceivedAt.UTC(), payload)
	if err != nil {
		return errors.Wrap(err, "insert order event")
	}
	return nil
}

func (s *Storage) ListOrderEvents(ctx context.Context, orderID string, limit, offset int) ([]messages.OrderEventRecorded, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT event_id, name, order_id, received_at, payload
FROM order_events
WHERE order_id = $1
ORDER BY received_at DESC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []messages.OrderEventRecorded
	for rows.Next() {
		var e messages.OrderEventRecorded
		var payload any
		if err := rows.Scan(&e.EventID, &e.Name, &e.OrderID, &e.ReceivedAt, &payload); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if payload != nil {
			b, _ := json.Marshal(payload)
			e.Payload = json.RawMessage(b)
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
