package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DriverInfo is the customer-facing snapshot of an assigned driver.
type DriverInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Vehicle string `json:"vehicle"`
	Loc     Coord  `json:"loc"`
}

// DriverStatus is the server-side availability of a connected driver.
type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverBusy      DriverStatus = "busy"
	DriverOffline   DriverStatus = "offline"
)

// Driver is the server-side view of a registered driver connection.
type Driver struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Phone   string       `json:"phone"`
	Vehicle string       `json:"vehicle"`
	Loc     Coord        `json:"loc"`
	Status  DriverStatus `json:"status"`
	Updated time.Time    `json:"updated"`
}

// DeliveryOffer is an ephemeral proposal shown to exactly one driver at a
// time. It is never persisted client-side beyond the active-offer slot.
type DeliveryOffer struct {
	OrderID        string  `json:"orderId"`
	RestaurantName string  `json:"restaurantName"`
	RestaurantLoc  Coord   `json:"restaurantLoc"`
	DropoffAddress string  `json:"dropoffAddress"`
	DropoffLoc     Coord   `json:"dropoffLoc"`
	Distance       string  `json:"distance"`
	Total          float64 `json:"total"`
	Tip            float64 `json:"tip"`
	ExpiresIn      int     `json:"expiresIn"` // seconds until the offer is void
}

// TotalEarnings is what the offer card shows the driver.
func (o DeliveryOffer) TotalEarnings() float64 { return o.Total + o.Tip }

type LineItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is the client view of an order: a snapshot replaceable wholesale by
// a poll or incrementally by pushed events. Version increases on every
// applied update so the push and poll paths merge deterministically.
type Order struct {
	ID             string      `json:"id"`
	CustomerID     string      `json:"customerId,omitempty"`
	RestaurantName string      `json:"restaurantName"`
	RestaurantLoc  Coord       `json:"restaurantLoc"`
	DropoffAddress string      `json:"dropoffAddress"`
	DropoffLoc     Coord       `json:"dropoffLoc"`
	Items          []LineItem  `json:"items,omitempty"`
	Subtotal       float64     `json:"subtotal"`
	DeliveryFee    float64     `json:"deliveryFee"`
	Tip            float64     `json:"tip"`
	Total          float64     `json:"total"`
	Currency       string      `json:"currency"`
	Status         string      `json:"status"`
	Driver         *DriverInfo `json:"driver,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	Version        int64       `json:"version"`
}

// Order lifecycle statuses as consumed by clients. The server value is
// authoritative and may skip steps; clients render whatever arrives.
const (
	StatusPending        = "pending"
	StatusConfirmed      = "confirmed"
	StatusPreparing      = "preparing"
	StatusReady          = "ready"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusCollected      = "collected"
	StatusPaid           = "paid"
	StatusCancelled      = "cancelled"
)

var knownStatuses = map[string]bool{
	StatusPending:        true,
	StatusConfirmed:      true,
	StatusPreparing:      true,
	StatusReady:          true,
	StatusOutForDelivery: true,
	StatusDelivered:      true,
	StatusCollected:      true,
	StatusPaid:           true,
	StatusCancelled:      true,
}

// NormalizeStatus maps unrecognized status strings to the pending-equivalent
// default so an unknown value never errors a render path.
func NormalizeStatus(s string) string {
	if knownStatuses[s] {
		return s
	}
	return StatusPending
}

// Delivery progression statuses a driver may report for an assigned order.
const (
	DeliveryDriverAssigned     = "driver_assigned"
	DeliveryArrivedRestaurant  = "arrived_restaurant"
	DeliveryPickedUp           = "picked_up"
	DeliveryOutForDelivery     = "out_for_delivery"
	DeliveryArrivedDestination = "arrived_destination"
	DeliveryDelivered          = "delivered"
)

var deliveryStatuses = map[string]bool{
	DeliveryArrivedRestaurant:  true,
	DeliveryPickedUp:           true,
	DeliveryOutForDelivery:     true,
	DeliveryArrivedDestination: true,
	DeliveryDelivered:          true,
}

// ValidDeliveryStatus reports whether a driver-reported status update is one
// the server accepts.
func ValidDeliveryStatus(s string) bool { return deliveryStatuses[s] }
