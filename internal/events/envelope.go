package events

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Envelope is the raw inbound message. The backend is loose about shape: the
// event name may live in "event" or the legacy "topic", and event fields may
// sit under "data" or flattened at the top level.
type Envelope struct {
	Event string         `json:"event,omitempty"`
	Topic string         `json:"topic,omitempty"`
	Data  map[string]any `json:"data,omitempty"`

	// Top-level fields other than event/topic/data.
	Extra map[string]any `json:"-"`
}

var ErrMalformed = errors.New("malformed event payload")

func ParseEnvelope(raw []byte) (Envelope, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
	}

	env := Envelope{Extra: map[string]any{}}
	for k, v := range m {
		switch k {
		case "event":
			if s, ok := v.(string); ok {
				env.Event = s
			}
		case "topic":
			if s, ok := v.(string); ok {
				env.Topic = s
			}
		case "data":
			if d, ok := v.(map[string]any); ok {
				env.Data = d
			}
		default:
			env.Extra[k] = v
		}
	}
	return env, nil
}

// Name resolves the event identity: "event" wins, legacy "topic" is the fallback.
func (e Envelope) Name() string {
	if e.Event != "" {
		return e.Event
	}
	return e.Topic
}

// field looks a key up in data first, then among the flattened top-level fields.
func (e Envelope) field(key string) (any, bool) {
	if e.Data != nil {
		if v, ok := e.Data[key]; ok {
			return v, true
		}
	}
	if v, ok := e.Extra[key]; ok {
		return v, true
	}
	return nil, false
}

func (e Envelope) stringField(keys ...string) string {
	for _, k := range keys {
		if v, ok := e.field(k); ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func (e Envelope) numberField(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := e.field(k); ok {
			if n, ok := asNumber(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// orderIDAliases is the fallback chain the backend has used at various times.
var orderIDAliases = []string{"orderId", "pedidoId", "pedidoID", "idPedido"}

// OrderID resolves the order identifier through the alias chain.
func (e Envelope) OrderID() string {
	return e.stringField(orderIDAliases...)
}

var conceptOrderRe = regexp.MustCompile(`Pedido #([A-Za-z0-9_-]+)`)

// OrderIDFromConcept extracts an order id out of a free-text payment concept,
// e.g. "Pedido #SP001 - Local Pepas" -> "SP001".
func OrderIDFromConcept(concept string) string {
	m := conceptOrderRe.FindStringSubmatch(concept)
	if m == nil {
		return ""
	}
	return m[1]
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
