package events

import (
	"time"

	"github.com/pkg/errors"

	"github.com/localpepas/orderlink/internal/models"
)

// Known event names. Order events use the backend's dotted Spanish vocabulary
// (same family as the catalogue's stock.actualizado); wallet responses come
// from the blockchain core with English topics.
const (
	NamePaymentRequest  = "payment.request"
	NameOrderAccepted   = "pedido.aceptado"
	NameCourierAssigned = "pedido.asignado"
	NameEnRoute         = "pedido.en_camino"
	NameDelivered       = "pedido.entregado"
	NameCoordinates     = "pedido.coordenadas"
	NameStockUpdate     = "stock.actualizado"

	NameFiatDeposit = "fiat.deposit.response"
	NameBuyCrypto   = "buy.crypto.response"
	NameSellCrypto  = "sell.crypto.response"
	NameGetBalances = "get.balances.response"
)

var ErrNoOrderID = errors.New("no resolvable order id")

// Event is the normalized, typed form of one inbound message. Exactly one
// concrete type exists per known event kind; the reducer switches on the type
// instead of poking alias fields.
type Event interface {
	EventName() string
}

type PaymentRequest struct {
	OrderID     string
	Amount      float64
	Concept     string
	PaymentType string
	Status      string
	Extra       map[string]any
}

type OrderAccepted struct {
	OrderID  string
	Status   string
	Products []models.Product
	Total    *float64
	Extra    map[string]any
}

type CourierAssigned struct {
	OrderID string
	Status  string
	Courier *models.Courier
	Extra   map[string]any
}

type EnRoute struct {
	OrderID string
	Status  string
	Extra   map[string]any
}

type Delivered struct {
	OrderID string
	Status  string
	Extra   map[string]any
}

type CoordinatesUpdate struct {
	OrderID   string
	Latitude  float64
	Longitude float64
	Status    string
	Extra     map[string]any
}

type WalletResponse struct {
	Topic         string
	Status        string
	FiatBalance   *float64
	CryptoBalance *float64
}

type StockUpdate struct {
	Entry models.StockEntry
}

type Unknown struct {
	Name string
}

func (PaymentRequest) EventName() string    { return NamePaymentRequest }
func (OrderAccepted) EventName() string     { return NameOrderAccepted }
func (CourierAssigned) EventName() string   { return NameCourierAssigned }
func (EnRoute) EventName() string           { return NameEnRoute }
func (Delivered) EventName() string         { return NameDelivered }
func (CoordinatesUpdate) EventName() string { return NameCoordinates }
func (w WalletResponse) EventName() string  { return w.Topic }
func (StockUpdate) EventName() string       { return NameStockUpdate }
func (u Unknown) EventName() string         { return u.Name }

// Classify parses a raw text frame into its normalized event. Unknown names
// come back as Unknown (the caller logs and moves on); order events without a
// resolvable id return ErrNoOrderID.
func Classify(raw []byte) (Event, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return ClassifyEnvelope(env)
}

func ClassifyEnvelope(env Envelope) (Event, error) {
	switch env.Name() {
	case NamePaymentRequest:
		return normalizePayment(env)
	case NameOrderAccepted:
		return normalizeAccepted(env)
	case NameCourierAssigned:
		return normalizeAssigned(env)
	case NameEnRoute:
		id, err := requireOrderID(env)
		if err != nil {
			return nil, err
		}
		return EnRoute{OrderID: id, Status: env.stringField("estado"), Extra: env.leftover("estado")}, nil
	case NameDelivered:
		id, err := requireOrderID(env)
		if err != nil {
			return nil, err
		}
		return Delivered{OrderID: id, Status: env.stringField("estado"), Extra: env.leftover("estado")}, nil
	case NameCoordinates:
		return normalizeCoordinates(env)
	case NameStockUpdate:
		return normalizeStock(env)
	case NameFiatDeposit, NameBuyCrypto, NameSellCrypto, NameGetBalances:
		return normalizeWallet(env)
	default:
		return Unknown{Name: env.Name()}, nil
	}
}

func requireOrderID(env Envelope) (string, error) {
	id := env.OrderID()
	if id == "" {
		return "", errors.Wrap(ErrNoOrderID, env.Name())
	}
	return id, nil
}

func normalizePayment(env Envelope) (Event, error) {
	concept := env.stringField("concept", "concepto")
	id := OrderIDFromConcept(concept)
	if id == "" {
		// Платежное событие без "Pedido #..." некуда привязать.
		return nil, errors.Wrapf(ErrNoOrderID, "concept %q", concept)
	}

	ev := PaymentRequest{
		OrderID:     id,
		Concept:     concept,
		PaymentType: env.stringField("paymentType"),
		Status:      env.stringField("estado", "status"),
		Extra:       env.leftover("concept", "concepto", "amount", "paymentType", "estado", "status", "fromEmail", "toEmail"),
	}
	if amount, ok := env.numberField("amount"); ok {
		ev.Amount = amount
	}
	return ev, nil
}

func normalizeAccepted(env Envelope) (Event, error) {
	id, err := requireOrderID(env)
	if err != nil {
		return nil, err
	}

	ev := OrderAccepted{
		OrderID: id,
		Status:  env.stringField("estado"),
		Extra:   env.leftover("estado", "productos", "total"),
	}
	if total, ok := env.numberField("total"); ok {
		ev.Total = &total
	}
	if v, ok := env.field("productos"); ok {
		if items, ok := v.([]any); ok {
			for _, it := range items {
				m, ok := it.(map[string]any)
				if !ok {
					continue
				}
				p := models.Product{Name: asString(m["nombre"])}
				if n, ok := asNumber(m["cantidad"]); ok {
					p.Quantity = int(n)
				}
				if n, ok := asNumber(m["precio"]); ok {
					p.Price = n
				}
				ev.Products = append(ev.Products, p)
			}
		}
	}
	return ev, nil
}

func normalizeAssigned(env Envelope) (Event, error) {
	id, err := requireOrderID(env)
	if err != nil {
		return nil, err
	}

	ev := CourierAssigned{
		OrderID: id,
		Status:  env.stringField("estado"),
		Extra:   env.leftover("estado", "repartidor"),
	}
	if v, ok := env.field("repartidor"); ok {
		if m, ok := v.(map[string]any); ok {
			ev.Courier = &models.Courier{
				FirstName: asString(m["nombre"]),
				LastName:  asString(m["apellido"]),
				Phone:     asString(m["telefono"]),
				Vehicle:   asString(m["vehiculo"]),
			}
		}
	}
	return ev, nil
}

func normalizeCoordinates(env Envelope) (Event, error) {
	id, err := requireOrderID(env)
	if err != nil {
		return nil, err
	}

	ev := CoordinatesUpdate{
		OrderID: id,
		Status:  env.stringField("estado"),
		Extra:   env.leftover("estado", "latitud", "longitud", "lat", "lng", "coordenadas"),
	}

	// Координаты либо вложены в "coordenadas", либо лежат плоско.
	lat, okLat := env.numberField("latitud", "lat")
	lng, okLng := env.numberField("longitud", "lng")
	if !okLat || !okLng {
		if v, ok := env.field("coordenadas"); ok {
			if m, ok := v.(map[string]any); ok {
				if n, ok := asNumber(m["latitud"]); ok {
					lat, okLat = n, true
				}
				if n, ok := asNumber(m["longitud"]); ok {
					lng, okLng = n, true
				}
			}
		}
	}
	if !okLat || !okLng {
		return nil, errors.Wrap(ErrMalformed, "coordinates event without latitud/longitud")
	}
	ev.Latitude = lat
	ev.Longitude = lng
	return ev, nil
}

func normalizeWallet(env Envelope) (Event, error) {
	ev := WalletResponse{
		Topic:  env.Name(),
		Status: env.stringField("status"),
	}
	if n, ok := env.numberField("currentFiatBalance", "fiatBalance"); ok {
		ev.FiatBalance = &n
	}
	if n, ok := env.numberField("currentCryptoBalance", "cryptoBalance"); ok {
		ev.CryptoBalance = &n
	}
	return ev, nil
}

func normalizeStock(env Envelope) (Event, error) {
	// stock.actualizado исторически приходит с двойной вложенностью: data.data.
	payload := env.Data
	if v, ok := env.field("data"); ok {
		if m, ok := v.(map[string]any); ok {
			payload = m
		}
	}
	if payload == nil {
		return nil, errors.Wrap(ErrMalformed, "stock event without data")
	}

	entry := models.StockEntry{UpdatedAt: time.Now().UTC()}
	if v, ok := payload["comercio"]; ok {
		if m, ok := v.(map[string]any); ok {
			entry.MerchantID = asString(m["id"])
			entry.MerchantName = asString(m["nombre"])
		}
	}
	if v, ok := payload["producto"]; ok {
		if m, ok := v.(map[string]any); ok {
			entry.ProductID = asString(m["id"])
			entry.ProductName = asString(m["nombre"])
			if n, ok := asNumber(m["precio"]); ok {
				entry.Price = n
			}
			if n, ok := asNumber(m["cantidad"]); ok {
				entry.Quantity = int(n)
			}
		}
	}
	if entry.MerchantID == "" || entry.ProductID == "" {
		return nil, errors.Wrap(ErrMalformed, "stock event without comercio/producto ids")
	}
	return StockUpdate{Entry: entry}, nil
}

// leftover copies data fields that normalization did not consume, so the
// reducer can merge them into the record as-is.
func (e Envelope) leftover(consumed ...string) map[string]any {
	skip := map[string]struct{}{}
	for _, k := range consumed {
		skip[k] = struct{}{}
	}
	for _, k := range orderIDAliases {
		skip[k] = struct{}{}
	}

	out := map[string]any{}
	for k, v := range e.Data {
		if _, ok := skip[k]; ok {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
