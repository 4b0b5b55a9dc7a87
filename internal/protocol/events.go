// Package protocol defines the named events exchanged over the delivery
// event channel and the codec for their payloads. Two namespaces exist, one
// per client role; event names are shared wire contract between the clients
// and the realtime server.
package protocol

import "encoding/json"

// Namespace paths. A channel connects to exactly one.
const (
	NamespaceDrivers   = "/ws/drivers"
	NamespaceCustomers = "/ws/customers"
)

// Driver namespace, outbound from the driver client.
const (
	EventDriverRegister       = "driver:register"
	EventDriverLocationUpdate = "driver:location_update"
	EventDeliveryAccept       = "delivery:accept"
	EventDeliveryReject       = "delivery:reject"
	EventDeliveryStatus       = "delivery:status"
	EventDriverGoOnline       = "driver:go_online"
	EventDriverGoOffline      = "driver:go_offline"
)

// Driver namespace, inbound to the driver client.
const (
	EventDeliveryOffer        = "delivery:offer"
	EventDeliveryAccepted     = "delivery:accepted"
	EventDeliveryAcceptFailed = "delivery:accept_failed"
	EventDeliveryRejected     = "delivery:rejected"
	EventDriverRegistered     = "driver:registered"
	EventError                = "error"
)

// Customer namespace, outbound from the customer client.
const (
	EventOrderSubscribe   = "order:subscribe"
	EventOrderUnsubscribe = "order:unsubscribe"
	EventOrderGetETA      = "order:get_eta"
	EventDriverRate       = "driver:rate"
)

// Customer namespace, inbound to the customer client.
const (
	EventOrderDriverAssigned = "order:driver_assigned"
	EventDriverLocation      = "driver:location"
	EventOrderStatus         = "order:status"
	EventOrderETA            = "order:eta"
	EventOrderCompleted      = "order:completed"
	EventOrderNoDrivers      = "order:no_drivers"
	EventOrderSubscribed     = "order:subscribed"
	EventDriverRated         = "driver:rated"
)

// Documented defaults for optional payload fields.
const (
	DefaultVehicle    = "Car"
	DefaultDriverName = "Driver"
	DefaultDistance   = "0"
	DefaultExpiresIn  = 30 // seconds
	DefaultErrorText  = "Unknown error"
)

// Envelope frames every message on the wire: a named event plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
