package models

import "time"

// Статусы пришли как есть от бэкенда доставки (исп. вокабуляр).
const (
	OrderStatusPendiente     = "PENDIENTE"
	OrderStatusPagoProcesado = "PAGO_PROCESADO"
	OrderStatusAceptado      = "ACEPTADO"
	OrderStatusAsignado      = "ASIGNADO"
	OrderStatusEnCamino      = "EN_CAMINO"
	OrderStatusEntregado     = "ENTREGADO"
	OrderStatusCancelado     = "CANCELADO"
)

// IsFinal reports whether a status ends the delivery flow.
func IsFinal(status string) bool {
	return status == OrderStatusEntregado || status == OrderStatusCancelado
}

type Product struct {
	Name     string  `json:"nombre"`
	Quantity int     `json:"cantidad"`
	Price    float64 `json:"precio"`
}

type Courier struct {
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
	Phone     string `json:"telefono"`
	Vehicle   string `json:"vehiculo"`
}

type Coordinates struct {
	Latitude  float64   `json:"latitud"`
	Longitude float64   `json:"longitud"`
	Timestamp time.Time `json:"timestamp"`
}

// Order accumulates state from socket events. Fields are only ever merged in
// (per-field last write wins); a record is never replaced wholesale.
type Order struct {
	ID       string       `json:"id"`
	Status   string       `json:"estado"`
	Total    float64      `json:"total"`
	Products []Product    `json:"productos,omitempty"`
	Courier  *Courier     `json:"repartidor,omitempty"`
	Coords   *Coordinates `json:"coordenadas,omitempty"`

	PaidAt      *time.Time `json:"fechaPago,omitempty"`
	AcceptedAt  *time.Time `json:"fechaAceptacion,omitempty"`
	AssignedAt  *time.Time `json:"fechaAsignacion,omitempty"`
	EnRouteAt   *time.Time `json:"fechaEnCamino,omitempty"`
	DeliveredAt *time.Time `json:"fechaEntrega,omitempty"`

	ReceivedAt time.Time `json:"receivedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	// Free-form event fields carried by the backend that have no typed home.
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a shallow-safe copy readers can hold without racing the reducer.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Products != nil {
		cp.Products = append([]Product(nil), o.Products...)
	}
	if o.Courier != nil {
		c := *o.Courier
		cp.Courier = &c
	}
	if o.Coords != nil {
		c := *o.Coords
		cp.Coords = &c
	}
	if o.Extra != nil {
		cp.Extra = make(map[string]any, len(o.Extra))
		for k, v := range o.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}
