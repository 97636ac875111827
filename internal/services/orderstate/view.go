package orderstate

import (
	"strings"
	"time"

	"github.com/localpepas/orderlink/internal/models"
)

// Проекции чистые: только чтение записи, никаких мутаций.

var statusLabels = map[string]string{
	models.OrderStatusPendiente:     "Pedido Pendiente",
	models.OrderStatusPagoProcesado: "Pago Procesado",
	models.OrderStatusAceptado:      "Pedido Aceptado",
	models.OrderStatusAsignado:      "Repartidor Asignado",
	models.OrderStatusEnCamino:      "En Camino",
	models.OrderStatusEntregado:     "Entregado",
	models.OrderStatusCancelado:     "Cancelado",
}

var statusColors = map[string]string{
	models.OrderStatusPendiente:     "#FF9800",
	models.OrderStatusPagoProcesado: "#9C27B0",
	models.OrderStatusAceptado:      "#FFA726",
	models.OrderStatusAsignado:      "#42A5F5",
	models.OrderStatusEnCamino:      "#FF7043",
	models.OrderStatusEntregado:     "#66BB6A",
	models.OrderStatusCancelado:     "#EF5350",
}

var etaBuckets = map[string]string{
	models.OrderStatusPendiente:     "40-60",
	models.OrderStatusPagoProcesado: "35-50",
	models.OrderStatusAceptado:      "30-45",
	models.OrderStatusAsignado:      "25-35",
	models.OrderStatusEnCamino:      "10-20",
	models.OrderStatusEntregado:     "0",
	models.OrderStatusCancelado:     "-",
}

const (
	fallbackLabel   = "Estado Desconocido"
	fallbackColor   = "#9E9E9E"
	fallbackETA     = "30-45"
	fallbackVehicle = "Vehículo no especificado"
)

// StatusLabel maps a status to its display text. Unknown statuses keep their
// raw value when present (the backend may grow new states), otherwise the
// generic fallback.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	if status != "" {
		return status
	}
	return fallbackLabel
}

func StatusColor(status string) string {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return fallbackColor
}

// ETABucket returns a human-readable minute range for the status.
func ETABucket(status string) string {
	if b, ok := etaBuckets[status]; ok {
		return b
	}
	return fallbackETA
}

func HasCoordinates(o *models.Order) bool {
	return o != nil && o.Coords != nil && o.Coords.Latitude != 0 && o.Coords.Longitude != 0
}

func CoordinatesOf(o *models.Order) *models.Coordinates {
	if !HasCoordinates(o) {
		return nil
	}
	c := *o.Coords
	return &c
}

func HasCourier(o *models.Order) bool {
	return o != nil && o.Courier != nil && (o.Courier.FirstName != "" || o.Courier.LastName != "")
}

type CourierView struct {
	FullName string `json:"nombre"`
	Phone    string `json:"telefono"`
	Vehicle  string `json:"vehiculo"`
}

func CourierOf(o *models.Order) *CourierView {
	if !HasCourier(o) {
		return nil
	}
	c := o.Courier
	v := c.Vehicle
	if v == "" {
		v = fallbackVehicle
	}
	return &CourierView{
		FullName: strings.TrimSpace(c.FirstName + " " + c.LastName),
		Phone:    c.Phone,
		Vehicle:  v,
	}
}

// OrderView is the presentation-ready projection of one order, the shape the
// tracking and map screens consume.
type OrderView struct {
	OrderID     string  `json:"pedidoId"`
	Status      string  `json:"estado"`
	StatusLabel string  `json:"estadoTexto"`
	StatusColor string  `json:"estadoColor"`
	ETAMinutes  string  `json:"tiempoEstimado"`
	Total       float64 `json:"total,omitempty"`

	HasCourier bool         `json:"tieneRepartidor"`
	Courier    *CourierView `json:"repartidor,omitempty"`

	HasCoordinates bool                `json:"tieneCoordenadas"`
	Coordinates    *models.Coordinates `json:"coordenadas,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

func ViewOf(o *models.Order) OrderView {
	v := OrderView{
		StatusLabel: fallbackLabel,
		StatusColor: fallbackColor,
		ETAMinutes:  fallbackETA,
	}
	if o == nil {
		return v
	}
	v.OrderID = o.ID
	v.Status = o.Status
	v.StatusLabel = StatusLabel(o.Status)
	v.StatusColor = StatusColor(o.Status)
	v.ETAMinutes = ETABucket(o.Status)
	v.Total = o.Total
	v.HasCourier = HasCourier(o)
	v.Courier = CourierOf(o)
	v.HasCoordinates = HasCoordinates(o)
	v.Coordinates = CoordinatesOf(o)
	v.UpdatedAt = o.UpdatedAt
	return v
}
