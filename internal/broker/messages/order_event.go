package messages

import (
	"encoding/json"
	"time"
)

// OrderEventRecorded is the wire form of one accepted socket event, published
// to the pedido.events topic and archived for replay.
type OrderEventRecorded struct {
	EventID string `json:"event_id"`
	Name    string `json:"event"`
	OrderID string `json:"order_id,omitempty"`

	ReceivedAt time.Time `json:"received_at"`

	Payload json.RawMessage `json:"payload,omitempty"`
}
