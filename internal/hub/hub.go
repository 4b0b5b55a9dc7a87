// Package hub is the realtime server side of the event channel: it accepts
// driver and customer websocket connections, dispatches delivery offers to
// nearby drivers, and fans order updates out to subscribed customers.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-events/internal/eta"
	"github.com/example/delivery-events/internal/geo"
	"github.com/example/delivery-events/internal/models"
	"github.com/example/delivery-events/internal/observability"
	"github.com/example/delivery-events/internal/orders"
	"github.com/example/delivery-events/internal/protocol"
)

// LocationPublisher streams driver fixes to the ingest pipeline. Satisfied by
// *ingest.KafkaProducer.
type LocationPublisher interface {
	PublishLocation(driverID string, loc models.Coord) error
}

// Options wires the hub's collaborators. Geo and Store are required; the
// rest degrade gracefully when absent.
type Options struct {
	Logger    *slog.Logger
	Geo       geo.Locator
	Store     orders.Store
	ETA       eta.Client // optional routing engine
	Publisher LocationPublisher
	OfferTTL  time.Duration
	TopN      int
	SpeedMps  float64

	// RetryDelay spaces dispatch rounds when no driver is available;
	// RetryLimit bounds how many such rounds run before the order is dropped.
	RetryDelay time.Duration
	RetryLimit int
}

// pendingOffer tracks one order's dispatch round: which driver currently
// holds the offer, who has already turned it down, and how many empty
// rounds have been retried.
type pendingOffer struct {
	order    models.Order
	offer    models.DeliveryOffer
	driverID string
	rejected map[string]bool
	timer    *time.Timer
	retries  int
}

type Hub struct {
	logger     *slog.Logger
	geo        geo.Locator
	store      orders.Store
	eta        eta.Client
	etaCache   *eta.Cache
	publisher  LocationPublisher
	offerTTL   time.Duration
	topN       int
	speedMps   float64
	retryDelay time.Duration
	retryLimit int

	mu          sync.Mutex
	drivers     map[string]*driverSession
	driverInfo  map[string]models.Driver
	busy        map[string]bool
	assignments map[string]string // driverID -> active orderID
	subs        map[string]map[*customerSession]bool
	pending     map[string]*pendingOffer
}

func New(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OfferTTL <= 0 {
		opts.OfferTTL = 30 * time.Second
	}
	if opts.TopN <= 0 {
		opts.TopN = 8
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 10
	}
	return &Hub{
		logger:      opts.Logger,
		geo:         opts.Geo,
		store:       opts.Store,
		eta:         opts.ETA,
		etaCache:    eta.NewCache(30 * time.Second),
		publisher:   opts.Publisher,
		offerTTL:    opts.OfferTTL,
		topN:        opts.TopN,
		speedMps:    opts.SpeedMps,
		retryDelay:  opts.RetryDelay,
		retryLimit:  opts.RetryLimit,
		drivers:     make(map[string]*driverSession),
		driverInfo:  make(map[string]models.Driver),
		busy:        make(map[string]bool),
		assignments: make(map[string]string),
		subs:        make(map[string]map[*customerSession]bool),
		pending:     make(map[string]*pendingOffer),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleDrivers upgrades a driver connection and runs its read loop.
func (h *Hub) HandleDrivers(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ds := &driverSession{session: session{conn: conn}}
	defer h.dropDriver(ds)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Unmarshal(msg)
		if err != nil {
			h.logger.Warn("dropping driver frame", "error", err)
			continue
		}
		h.handleDriverEvent(ds, env)
	}
}

// HandleCustomers upgrades a customer connection and runs its read loop.
func (h *Hub) HandleCustomers(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	cs := newCustomerSession(conn)
	defer h.dropCustomer(cs)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Unmarshal(msg)
		if err != nil {
			h.logger.Warn("dropping customer frame", "error", err)
			continue
		}
		h.handleCustomerEvent(cs, env)
	}
}

// --- driver events ---

func (h *Hub) handleDriverEvent(ds *driverSession, env protocol.Envelope) {
	if env.Event == protocol.EventDriverRegister {
		h.registerDriver(ds, env)
		return
	}
	if ds.id == "" {
		_ = ds.send(protocol.EventError, protocol.ErrorPayload{Message: "Register first"})
		return
	}

	switch env.Event {
	case protocol.EventDriverLocationUpdate:
		var p protocol.LocationPayload
		if err := unmarshalData(env, &p); err != nil {
			h.logger.Warn("bad location update", "driver_id", ds.id, "error", err)
			return
		}
		h.updateLocation(ds.id, models.Coord{Lat: p.Lat, Lng: p.Lng})

	case protocol.EventDeliveryAccept:
		var p protocol.AcceptPayload
		if err := unmarshalData(env, &p); err != nil || p.OrderID == "" {
			_ = ds.send(protocol.EventDeliveryAcceptFailed, protocol.AcceptFailedPayload{Message: "Missing orderId"})
			return
		}
		h.handleAccept(ds, p.OrderID)

	case protocol.EventDeliveryReject:
		var p protocol.RejectPayload
		if err := unmarshalData(env, &p); err != nil || p.OrderID == "" {
			return
		}
		h.handleReject(ds, p.OrderID, p.Reason)

	case protocol.EventDeliveryStatus:
		var p protocol.StatusUpdatePayload
		if err := unmarshalData(env, &p); err != nil {
			return
		}
		h.handleStatusUpdate(ds, p.OrderID, p.Status)

	case protocol.EventDriverGoOnline:
		h.mu.Lock()
		_, assigned := h.assignments[ds.id]
		h.mu.Unlock()
		if assigned {
			// a driver mid-delivery stays busy until the order resolves
			h.logger.Debug("go_online ignored during delivery", "driver_id", ds.id)
			return
		}
		h.setAvailability(ds.id, models.DriverAvailable)

	case protocol.EventDriverGoOffline:
		h.setAvailability(ds.id, models.DriverOffline)

	default:
		h.logger.Debug("ignoring driver event", "event", env.Event, "driver_id", ds.id)
	}
}

func (h *Hub) registerDriver(ds *driverSession, env protocol.Envelope) {
	p, err := protocol.DecodeRegister(env.Data)
	if err != nil {
		_ = ds.send(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	d := models.Driver{
		ID:      p.DriverID,
		Name:    p.Name,
		Phone:   p.Phone,
		Vehicle: p.Vehicle,
		Loc:     models.Coord{Lat: p.Lat, Lng: p.Lng},
		Status:  models.DriverAvailable,
		Updated: time.Now(),
	}

	h.mu.Lock()
	if old, ok := h.drivers[p.DriverID]; ok && old != ds {
		// a fresh session replaces a stale one for the same driver
		old.close()
	}
	ds.id = p.DriverID
	h.drivers[p.DriverID] = ds
	h.driverInfo[p.DriverID] = d
	h.mu.Unlock()

	h.geo.Upsert(d)
	observability.DriversOnline.Inc()
	h.logger.Info("driver registered", "driver_id", p.DriverID, "vehicle", p.Vehicle)
	_ = ds.send(protocol.EventDriverRegistered, protocol.RegisteredPayload{Success: true})
}

func (h *Hub) dropDriver(ds *driverSession) {
	ds.close()
	if ds.id == "" {
		return
	}
	h.mu.Lock()
	current, ok := h.drivers[ds.id]
	if !ok || current != ds {
		h.mu.Unlock()
		return
	}
	delete(h.drivers, ds.id)
	d := h.driverInfo[ds.id]
	d.Status = models.DriverOffline
	h.driverInfo[ds.id] = d

	// every offer held by the vanished driver moves on to the next candidate
	var reoffers []string
	for orderID, po := range h.pending {
		if po.driverID == ds.id {
			po.rejected[ds.id] = true
			po.driverID = ""
			po.timer.Stop()
			reoffers = append(reoffers, orderID)
		}
	}
	h.mu.Unlock()

	h.geo.Upsert(d)
	observability.DriversOnline.Dec()
	h.logger.Info("driver disconnected", "driver_id", ds.id)
	for _, orderID := range reoffers {
		h.dispatchOffer(orderID)
	}
}

func (h *Hub) updateLocation(driverID string, loc models.Coord) {
	h.mu.Lock()
	d := h.driverInfo[driverID]
	d.ID = driverID
	d.Loc = loc
	d.Updated = time.Now()
	if d.Status == "" {
		d.Status = models.DriverAvailable
	}
	h.driverInfo[driverID] = d
	orderID := h.assignments[driverID]
	h.mu.Unlock()

	h.geo.Upsert(d)
	if h.publisher != nil {
		if err := h.publisher.PublishLocation(driverID, loc); err != nil {
			h.logger.Warn("location publish failed", "driver_id", driverID, "error", err)
		}
	}
	if orderID != "" {
		h.broadcast(orderID, protocol.EventDriverLocation, protocol.DriverLocationPayload{
			OrderID:   orderID,
			DriverID:  driverID,
			Lat:       loc.Lat,
			Lng:       loc.Lng,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (h *Hub) setAvailability(driverID string, status models.DriverStatus) {
	h.mu.Lock()
	d := h.driverInfo[driverID]
	d.ID = driverID
	d.Status = status
	d.Updated = time.Now()
	h.driverInfo[driverID] = d
	h.mu.Unlock()
	h.geo.Upsert(d)
}

// --- offer dispatch ---

// OfferOrder starts a dispatch round for an order. Each round offers to one
// driver at a time; expiry or rejection moves to the next nearest candidate.
func (h *Hub) OfferOrder(o models.Order) {
	h.mu.Lock()
	if _, exists := h.pending[o.ID]; exists {
		h.mu.Unlock()
		return
	}
	h.pending[o.ID] = &pendingOffer{order: o, rejected: make(map[string]bool)}
	h.mu.Unlock()
	h.dispatchOffer(o.ID)
}

func (h *Hub) dispatchOffer(orderID string) {
	h.mu.Lock()
	po, ok := h.pending[orderID]
	if !ok {
		h.mu.Unlock()
		return
	}

	// a driver may hold at most one outstanding offer at a time
	holding := make(map[string]bool, len(h.pending))
	for _, other := range h.pending {
		if other != po && other.driverID != "" {
			holding[other.driverID] = true
		}
	}

	candidates := h.geo.Nearby(po.order.RestaurantLoc.Lat, po.order.RestaurantLoc.Lng, h.topN)
	var target *driverSession
	var targetID string
	for _, c := range candidates {
		if po.rejected[c.ID] || h.busy[c.ID] || holding[c.ID] {
			continue
		}
		if ds, connected := h.drivers[c.ID]; connected {
			target = ds
			targetID = c.ID
			break
		}
	}

	if target == nil {
		po.driverID = ""
		po.retries++
		round := po.retries
		retry := round <= h.retryLimit
		if retry {
			po.timer = time.AfterFunc(h.retryDelay, func() { h.dispatchOffer(orderID) })
		} else {
			delete(h.pending, orderID)
		}
		h.mu.Unlock()
		h.logger.Warn("no drivers available", "order_id", orderID, "round", round, "retrying", retry)
		msg := "No drivers available. We will keep trying."
		if !retry {
			msg = "No drivers available."
		}
		h.broadcast(orderID, protocol.EventOrderNoDrivers, map[string]string{"orderId": orderID, "message": msg})
		return
	}

	distKm := geo.Distance(po.order.RestaurantLoc, po.order.DropoffLoc)
	po.offer = models.DeliveryOffer{
		OrderID:        orderID,
		RestaurantName: po.order.RestaurantName,
		RestaurantLoc:  po.order.RestaurantLoc,
		DropoffAddress: po.order.DropoffAddress,
		DropoffLoc:     po.order.DropoffLoc,
		Distance:       fmt.Sprintf("%.1f", distKm),
		Total:          po.order.DeliveryFee,
		Tip:            po.order.Tip,
		ExpiresIn:      int(h.offerTTL.Seconds()),
	}
	po.driverID = targetID
	po.timer = time.AfterFunc(h.offerTTL, func() { h.expireOffer(orderID, targetID) })
	h.mu.Unlock()

	observability.OffersDispatched.Inc()
	h.logger.Info("offer dispatched", "order_id", orderID, "driver_id", targetID)
	if err := target.send(protocol.EventDeliveryOffer, protocol.EncodeOffer(po.offer)); err != nil {
		h.logger.Warn("offer send failed", "order_id", orderID, "driver_id", targetID, "error", err)
	}
}

func (h *Hub) expireOffer(orderID, driverID string) {
	h.mu.Lock()
	po, ok := h.pending[orderID]
	if !ok || po.driverID != driverID {
		h.mu.Unlock()
		return
	}
	po.rejected[driverID] = true
	po.driverID = ""
	h.mu.Unlock()

	observability.OffersExpired.Inc()
	h.logger.Info("offer expired", "order_id", orderID, "driver_id", driverID)
	h.dispatchOffer(orderID)
}

// handleAccept resolves the accept race: only the driver currently holding
// the offer wins; everyone else gets delivery:accept_failed.
func (h *Hub) handleAccept(ds *driverSession, orderID string) {
	h.mu.Lock()
	po, ok := h.pending[orderID]
	if !ok || po.driverID != ds.id {
		h.mu.Unlock()
		_ = ds.send(protocol.EventDeliveryAcceptFailed, protocol.AcceptFailedPayload{
			OrderID: orderID,
			Message: "Offer expired or already taken",
		})
		return
	}
	po.timer.Stop()
	delete(h.pending, orderID)
	h.assignments[ds.id] = orderID
	h.busy[ds.id] = true
	d := h.driverInfo[ds.id]
	d.Status = models.DriverBusy
	h.driverInfo[ds.id] = d
	order := po.order
	h.mu.Unlock()

	h.geo.Upsert(d)

	info := models.DriverInfo{ID: d.ID, Name: d.Name, Phone: d.Phone, Vehicle: d.Vehicle, Loc: d.Loc}
	order.Driver = &info
	order.Status = models.StatusConfirmed
	order.UpdatedAt = time.Now()
	order.Version++
	if err := h.store.UpdateOrder(&order); err != nil {
		h.logger.Error("order update failed", "order_id", orderID, "error", err)
	}

	observability.OffersAccepted.Inc()
	h.logger.Info("offer accepted", "order_id", orderID, "driver_id", ds.id)
	_ = ds.send(protocol.EventDeliveryAccepted, protocol.AcceptedPayload{OrderID: orderID})
	h.broadcast(orderID, protocol.EventOrderDriverAssigned, protocol.DriverAssignedPayload{
		OrderID: orderID,
		Driver:  info,
	})
}

func (h *Hub) handleReject(ds *driverSession, orderID, reason string) {
	h.mu.Lock()
	po, ok := h.pending[orderID]
	if !ok || po.driverID != ds.id {
		h.mu.Unlock()
		return
	}
	po.rejected[ds.id] = true
	po.driverID = ""
	po.timer.Stop()
	h.mu.Unlock()

	h.logger.Info("offer rejected", "order_id", orderID, "driver_id", ds.id, "reason", reason)
	_ = ds.send(protocol.EventDeliveryRejected, protocol.RejectedPayload{OrderID: orderID})
	h.dispatchOffer(orderID)
}

func (h *Hub) handleStatusUpdate(ds *driverSession, orderID, status string) {
	if !models.ValidDeliveryStatus(status) {
		_ = ds.send(protocol.EventError, protocol.ErrorPayload{Message: "Invalid delivery status"})
		return
	}
	h.mu.Lock()
	assigned := h.assignments[ds.id] == orderID
	h.mu.Unlock()
	if !assigned {
		_ = ds.send(protocol.EventError, protocol.ErrorPayload{Message: "Not assigned to this order"})
		return
	}

	orderStatus := orderStatusFor(status)
	if o, err := h.store.GetOrder(orderID); err == nil {
		o.Status = orderStatus
		o.UpdatedAt = time.Now()
		o.Version++
		if err := h.store.UpdateOrder(o); err != nil {
			h.logger.Error("order update failed", "order_id", orderID, "error", err)
		}
	}

	h.logger.Info("delivery status", "order_id", orderID, "driver_id", ds.id, "status", status)
	h.broadcast(orderID, protocol.EventOrderStatus, protocol.OrderStatusPayload{OrderID: orderID, Status: orderStatus})

	if status == models.DeliveryDelivered {
		h.broadcast(orderID, protocol.EventOrderCompleted, protocol.CompletedPayload{OrderID: orderID, RequestRating: true})
		h.mu.Lock()
		delete(h.assignments, ds.id)
		delete(h.busy, ds.id)
		d := h.driverInfo[ds.id]
		d.Status = models.DriverAvailable
		h.driverInfo[ds.id] = d
		h.mu.Unlock()
		h.geo.Upsert(d)
	}
}

// orderStatusFor maps driver progression reports onto the customer-facing
// order lifecycle.
func orderStatusFor(deliveryStatus string) string {
	switch deliveryStatus {
	case models.DeliveryArrivedRestaurant:
		return models.StatusPreparing
	case models.DeliveryPickedUp, models.DeliveryOutForDelivery, models.DeliveryArrivedDestination:
		return models.StatusOutForDelivery
	case models.DeliveryDelivered:
		return models.StatusDelivered
	}
	return models.StatusPending
}

// --- customer events ---

func (h *Hub) handleCustomerEvent(cs *customerSession, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventOrderSubscribe:
		var p protocol.SubscribePayload
		if err := unmarshalData(env, &p); err != nil || p.OrderID == "" {
			_ = cs.send(protocol.EventError, protocol.ErrorPayload{Message: "Missing orderId"})
			return
		}
		h.mu.Lock()
		if h.subs[p.OrderID] == nil {
			h.subs[p.OrderID] = make(map[*customerSession]bool)
		}
		h.subs[p.OrderID][cs] = true
		cs.orders[p.OrderID] = true
		h.mu.Unlock()
		_ = cs.send(protocol.EventOrderSubscribed, map[string]string{"orderId": p.OrderID})

	case protocol.EventOrderUnsubscribe:
		var p protocol.UnsubscribePayload
		if err := unmarshalData(env, &p); err != nil || p.OrderID == "" {
			return
		}
		h.mu.Lock()
		delete(cs.orders, p.OrderID)
		if set := h.subs[p.OrderID]; set != nil {
			delete(set, cs)
			if len(set) == 0 {
				delete(h.subs, p.OrderID)
			}
		}
		h.mu.Unlock()

	case protocol.EventOrderGetETA:
		var p protocol.GetETAPayload
		if err := unmarshalData(env, &p); err != nil || p.OrderID == "" {
			return
		}
		h.answerETA(cs, p.OrderID)

	case protocol.EventDriverRate:
		var p protocol.RatePayload
		if err := unmarshalData(env, &p); err != nil {
			return
		}
		if p.Rating < 1 || p.Rating > 5 {
			_ = cs.send(protocol.EventError, protocol.ErrorPayload{Message: "Rating must be between 1 and 5"})
			return
		}
		h.logger.Info("driver rated", "order_id", p.OrderID, "driver_id", p.DriverID, "rating", p.Rating)
		_ = cs.send(protocol.EventDriverRated, map[string]any{"orderId": p.OrderID, "success": true})

	default:
		h.logger.Debug("ignoring customer event", "event", env.Event)
	}
}

// answerETA estimates from the driver's last fix when one is assigned, or
// from the restaurant otherwise. A configured routing engine is tried first
// with the naive estimator as fallback.
func (h *Hub) answerETA(cs *customerSession, orderID string) {
	o, err := h.store.GetOrder(orderID)
	if err != nil {
		_ = cs.send(protocol.EventError, protocol.ErrorPayload{Message: "Order not found"})
		return
	}

	from := o.RestaurantLoc
	if o.Driver != nil {
		h.mu.Lock()
		if d, ok := h.driverInfo[o.Driver.ID]; ok {
			from = d.Loc
		}
		h.mu.Unlock()
	}

	minutes := 0
	if h.eta != nil {
		secs, ok := h.etaCache.Get(from, o.DropoffLoc)
		if !ok {
			var err error
			secs, err = h.eta.EstimateSeconds(from, o.DropoffLoc)
			if err != nil {
				secs = 0
			} else {
				h.etaCache.Set(from, o.DropoffLoc, secs)
			}
		}
		minutes = int((secs + 59) / 60)
	}
	if minutes == 0 {
		minutes = eta.EstimateMinutes(from, o.DropoffLoc, h.speedMps)
	}
	distKm := geo.Distance(from, o.DropoffLoc)

	_ = cs.send(protocol.EventOrderETA, protocol.ETAPayload{
		OrderID:  orderID,
		ETA:      minutes,
		Distance: fmt.Sprintf("%.1f", distKm),
	})
}

func (h *Hub) dropCustomer(cs *customerSession) {
	cs.close()
	h.mu.Lock()
	for orderID := range cs.orders {
		if set := h.subs[orderID]; set != nil {
			delete(set, cs)
			if len(set) == 0 {
				delete(h.subs, orderID)
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(orderID, event string, payload any) {
	h.mu.Lock()
	targets := make([]*customerSession, 0, len(h.subs[orderID]))
	for cs := range h.subs[orderID] {
		targets = append(targets, cs)
	}
	h.mu.Unlock()
	for _, cs := range targets {
		if err := cs.send(event, payload); err != nil {
			h.logger.Warn("broadcast send failed", "order_id", orderID, "event", event, "error", err)
		}
	}
}

func unmarshalData(env protocol.Envelope, v any) error {
	if len(env.Data) == 0 {
		return &protocol.ErrMissingField{Event: env.Event, Field: "data"}
	}
	return json.Unmarshal(env.Data, v)
}
