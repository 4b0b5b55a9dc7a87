package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/example/delivery-events/internal/models"
)

// ErrMissingField marks a payload that lacks a required field. The channel
// drops such events without disturbing the dispatch loop.
type ErrMissingField struct {
	Event string
	Field string
}

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("protocol: %s missing required field %q", e.Event, e.Field)
}

func missing(event, field string) error { return &ErrMissingField{Event: event, Field: field} }

// Marshal frames a payload into an envelope ready for the wire.
func Marshal(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", event, err)
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Unmarshal parses a wire frame back into an envelope.
func Unmarshal(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, missing("envelope", "event")
	}
	return env, nil
}

// --- outbound payloads (encode side must omit nothing the receiver requires) ---

type RegisterPayload struct {
	DriverID string  `json:"driverId"`
	Name     string  `json:"name"`
	Phone    string  `json:"phone"`
	Vehicle  string  `json:"vehicle"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type LocationPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type AcceptPayload struct {
	OrderID string `json:"orderId"`
}

type RejectPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type StatusUpdatePayload struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type SubscribePayload struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
}

type UnsubscribePayload struct {
	OrderID string `json:"orderId"`
}

type GetETAPayload struct {
	OrderID string `json:"orderId"`
}

type RatePayload struct {
	OrderID  string `json:"orderId"`
	DriverID string `json:"driverId"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

// --- inbound payloads and their defensive decoders ---

type AcceptedPayload struct {
	OrderID string `json:"orderId"`
	Message string `json:"message,omitempty"`
}

type AcceptFailedPayload struct {
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message"`
}

type RejectedPayload struct {
	OrderID string `json:"orderId"`
	Message string `json:"message,omitempty"`
}

type RegisteredPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type DriverAssignedPayload struct {
	OrderID string            `json:"orderId,omitempty"`
	Driver  models.DriverInfo `json:"driver"`
}

type DriverLocationPayload struct {
	OrderID   string  `json:"orderId,omitempty"`
	DriverID  string  `json:"driverId,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

type OrderStatusPayload struct {
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status"`
}

type ETAPayload struct {
	OrderID  string `json:"orderId,omitempty"`
	ETA      int    `json:"eta"`      // minutes
	Distance string `json:"distance"` // formatted km
}

type CompletedPayload struct {
	OrderID       string `json:"orderId,omitempty"`
	RequestRating bool   `json:"requestRating"`
}

// DecodeOffer validates and defaults a delivery:offer payload. Identity and
// route coordinates are required; monetary fields, distance and expiry carry
// documented defaults.
func DecodeOffer(data json.RawMessage) (models.DeliveryOffer, error) {
	var raw struct {
		OrderID        *string  `json:"orderId"`
		RestaurantName *string  `json:"restaurantName"`
		RestaurantLat  *float64 `json:"restaurantLat"`
		RestaurantLng  *float64 `json:"restaurantLng"`
		DropoffAddress *string  `json:"dropoffAddress"`
		DropoffLat     *float64 `json:"dropoffLat"`
		DropoffLng     *float64 `json:"dropoffLng"`
		Distance       *string  `json:"distance"`
		Total          *float64 `json:"total"`
		Tip            *float64 `json:"tip"`
		ExpiresIn      *int     `json:"expiresIn"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.DeliveryOffer{}, fmt.Errorf("protocol: decode %s: %w", EventDeliveryOffer, err)
	}
	switch {
	case raw.OrderID == nil || *raw.OrderID == "":
		return models.DeliveryOffer{}, missing(EventDeliveryOffer, "orderId")
	case raw.RestaurantName == nil:
		return models.DeliveryOffer{}, missing(EventDeliveryOffer, "restaurantName")
	case raw.RestaurantLat == nil:
		return models.DeliveryOffer{}, missing(EventDeliveryOffer, "restaurantLat")
	case raw.RestaurantLng == nil:
		return models.DeliveryOffer{}, missing(EventDeliveryOffer, "restaurantLng")
	case raw.DropoffAddress == nil:
		return models.DeliveryOffer{}, missing(EventDeliveryOffer, "dropoffAddress")
	case raw.DropoffLat == nil:
		return models.DeliveryOffer{}, missing(EventDeliveryOffer, "dropoffLat")
	case raw.DropoffLng == nil:
		return models.DeliveryOffer{}, missing(EventDeliveryOffer, "dropoffLng")
	}
	offer := models.DeliveryOffer{
		OrderID:        *raw.OrderID,
		RestaurantName: *raw.RestaurantName,
		RestaurantLoc:  models.Coord{Lat: *raw.RestaurantLat, Lng: *raw.RestaurantLng},
		DropoffAddress: *raw.DropoffAddress,
		DropoffLoc:     models.Coord{Lat: *raw.DropoffLat, Lng: *raw.DropoffLng},
		Distance:       DefaultDistance,
		ExpiresIn:      DefaultExpiresIn,
	}
	if raw.Distance != nil && *raw.Distance != "" {
		offer.Distance = *raw.Distance
	}
	if raw.Total != nil {
		offer.Total = *raw.Total
	}
	if raw.Tip != nil {
		offer.Tip = *raw.Tip
	}
	if raw.ExpiresIn != nil && *raw.ExpiresIn > 0 {
		offer.ExpiresIn = *raw.ExpiresIn
	}
	return offer, nil
}

// EncodeOffer flattens a DeliveryOffer into the wire shape DecodeOffer reads.
func EncodeOffer(o models.DeliveryOffer) map[string]any {
	return map[string]any{
		"orderId":        o.OrderID,
		"restaurantName": o.RestaurantName,
		"restaurantLat":  o.RestaurantLoc.Lat,
		"restaurantLng":  o.RestaurantLoc.Lng,
		"dropoffAddress": o.DropoffAddress,
		"dropoffLat":     o.DropoffLoc.Lat,
		"dropoffLng":     o.DropoffLoc.Lng,
		"distance":       o.Distance,
		"total":          o.Total,
		"tip":            o.Tip,
		"expiresIn":      o.ExpiresIn,
	}
}

func DecodeAccepted(data json.RawMessage) (AcceptedPayload, error) {
	var p AcceptedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return AcceptedPayload{}, fmt.Errorf("protocol: decode %s: %w", EventDeliveryAccepted, err)
	}
	if p.OrderID == "" {
		return AcceptedPayload{}, missing(EventDeliveryAccepted, "orderId")
	}
	return p, nil
}

func DecodeAcceptFailed(data json.RawMessage) AcceptFailedPayload {
	p := AcceptFailedPayload{Message: "Failed to accept"}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &p)
	}
	if p.Message == "" {
		p.Message = "Failed to accept"
	}
	return p
}

func DecodeRejected(data json.RawMessage) (RejectedPayload, error) {
	var p RejectedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return RejectedPayload{}, fmt.Errorf("protocol: decode %s: %w", EventDeliveryRejected, err)
	}
	if p.OrderID == "" {
		return RejectedPayload{}, missing(EventDeliveryRejected, "orderId")
	}
	return p, nil
}

// DecodeError tolerates any shape; an absent message falls back to the
// documented default.
func DecodeError(data json.RawMessage) ErrorPayload {
	p := ErrorPayload{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &p)
	}
	if p.Message == "" {
		p.Message = DefaultErrorText
	}
	return p
}

// DecodeDriverAssigned requires the driver id; name, vehicle and coordinates
// default per the contract.
func DecodeDriverAssigned(data json.RawMessage) (DriverAssignedPayload, error) {
	var raw struct {
		OrderID string `json:"orderId"`
		Driver  *struct {
			ID      *string  `json:"id"`
			Name    *string  `json:"name"`
			Phone   *string  `json:"phone"`
			Vehicle *string  `json:"vehicle"`
			Lat     *float64 `json:"lat"`
			Lng     *float64 `json:"lng"`
		} `json:"driver"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DriverAssignedPayload{}, fmt.Errorf("protocol: decode %s: %w", EventOrderDriverAssigned, err)
	}
	if raw.Driver == nil {
		return DriverAssignedPayload{}, missing(EventOrderDriverAssigned, "driver")
	}
	if raw.Driver.ID == nil || *raw.Driver.ID == "" {
		return DriverAssignedPayload{}, missing(EventOrderDriverAssigned, "driver.id")
	}
	info := models.DriverInfo{
		ID:      *raw.Driver.ID,
		Name:    DefaultDriverName,
		Vehicle: DefaultVehicle,
	}
	if raw.Driver.Name != nil && *raw.Driver.Name != "" {
		info.Name = *raw.Driver.Name
	}
	if raw.Driver.Phone != nil {
		info.Phone = *raw.Driver.Phone
	}
	if raw.Driver.Vehicle != nil && *raw.Driver.Vehicle != "" {
		info.Vehicle = *raw.Driver.Vehicle
	}
	if raw.Driver.Lat != nil {
		info.Loc.Lat = *raw.Driver.Lat
	}
	if raw.Driver.Lng != nil {
		info.Loc.Lng = *raw.Driver.Lng
	}
	return DriverAssignedPayload{OrderID: raw.OrderID, Driver: info}, nil
}

func DecodeDriverLocation(data json.RawMessage) (DriverLocationPayload, error) {
	var raw struct {
		OrderID   string   `json:"orderId"`
		DriverID  string   `json:"driverId"`
		Lat       *float64 `json:"lat"`
		Lng       *float64 `json:"lng"`
		Timestamp int64    `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DriverLocationPayload{}, fmt.Errorf("protocol: decode %s: %w", EventDriverLocation, err)
	}
	if raw.Lat == nil {
		return DriverLocationPayload{}, missing(EventDriverLocation, "lat")
	}
	if raw.Lng == nil {
		return DriverLocationPayload{}, missing(EventDriverLocation, "lng")
	}
	return DriverLocationPayload{
		OrderID:   raw.OrderID,
		DriverID:  raw.DriverID,
		Lat:       *raw.Lat,
		Lng:       *raw.Lng,
		Timestamp: raw.Timestamp,
	}, nil
}

func DecodeOrderStatus(data json.RawMessage) (OrderStatusPayload, error) {
	var p OrderStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return OrderStatusPayload{}, fmt.Errorf("protocol: decode %s: %w", EventOrderStatus, err)
	}
	if p.Status == "" {
		return OrderStatusPayload{}, missing(EventOrderStatus, "status")
	}
	return p, nil
}

func DecodeETA(data json.RawMessage) ETAPayload {
	p := ETAPayload{Distance: DefaultDistance}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &p)
	}
	if p.Distance == "" {
		p.Distance = DefaultDistance
	}
	return p
}

// DecodeCompleted defaults requestRating to true, matching the server side.
func DecodeCompleted(data json.RawMessage) CompletedPayload {
	raw := struct {
		OrderID       string `json:"orderId"`
		RequestRating *bool  `json:"requestRating"`
	}{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &raw)
	}
	p := CompletedPayload{OrderID: raw.OrderID, RequestRating: true}
	if raw.RequestRating != nil {
		p.RequestRating = *raw.RequestRating
	}
	return p
}

// DecodeRegister is the server-side validator for driver:register.
func DecodeRegister(data json.RawMessage) (RegisterPayload, error) {
	var raw struct {
		DriverID *string  `json:"driverId"`
		Name     *string  `json:"name"`
		Phone    *string  `json:"phone"`
		Vehicle  *string  `json:"vehicle"`
		Lat      *float64 `json:"lat"`
		Lng      *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RegisterPayload{}, fmt.Errorf("protocol: decode %s: %w", EventDriverRegister, err)
	}
	if raw.DriverID == nil || *raw.DriverID == "" {
		return RegisterPayload{}, missing(EventDriverRegister, "driverId")
	}
	p := RegisterPayload{DriverID: *raw.DriverID, Vehicle: DefaultVehicle}
	if raw.Name != nil {
		p.Name = *raw.Name
	}
	if raw.Phone != nil {
		p.Phone = *raw.Phone
	}
	if raw.Vehicle != nil && *raw.Vehicle != "" {
		p.Vehicle = *raw.Vehicle
	}
	if raw.Lat != nil {
		p.Lat = *raw.Lat
	}
	if raw.Lng != nil {
		p.Lng = *raw.Lng
	}
	return p, nil
}
