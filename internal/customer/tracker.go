// Package customer implements the customer-side tracking protocol: order
// subscription over the event channel, a one-shot baseline fetch, push-event
// application onto a versioned snapshot, and periodic fallback polling.
package customer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-events/internal/models"
	"github.com/example/delivery-events/internal/protocol"
)

// Emitter is the outbound half of the channel the tracker drives. Satisfied
// by *channel.Channel.
type Emitter interface {
	Emit(event string, payload any)
	Connected() bool
}

// Fetcher is the one-shot order snapshot request, used for the baseline and
// the fallback poll. It is not part of the event channel.
type Fetcher interface {
	FetchOrder(ctx context.Context, orderID string) (models.Order, error)
}

// Events is the capability interface UI consumers implement. Callbacks run
// on the channel dispatch or poll path; marshal onto the UI context before
// touching shared UI state.
type Events interface {
	SnapshotUpdated(o models.Order)
	DriverAssigned(d models.DriverInfo)
	DriverLocation(loc models.Coord)
	ETAUpdated(minutes int, distance string)
	Completed(requestRating bool)
	NoDriversAvailable()
}

var (
	ErrInvalidRating  = errors.New("customer: rating must be between 1 and 5")
	ErrAlreadyStarted = errors.New("customer: tracker already started")
	ErrNotStarted     = errors.New("customer: tracker not started")
)

const defaultPollInterval = 15 * time.Second

// Tracker owns the order snapshot for one tracking view. The snapshot is
// mutated only here: by pushed events or by the fallback poll, never by the
// UI. Every applied update bumps the snapshot version so the two update
// paths merge deterministically even without wire sequence numbers.
type Tracker struct {
	emitter      Emitter
	fetch        Fetcher
	logger       *slog.Logger
	pollInterval time.Duration

	mu         sync.Mutex
	events     []Events
	orderID    string
	customerID string
	snapshot   models.Order
	active     bool
	stopPoll   chan struct{}
}

func NewTracker(e Emitter, f Fetcher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		emitter:      e,
		fetch:        f,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

func (t *Tracker) AddListener(ev Events) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.events {
		if existing == ev {
			return
		}
	}
	t.events = append(t.events, ev)
}

func (t *Tracker) RemoveListener(ev Events) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.events {
		if existing == ev {
			t.events = append(t.events[:i:i], t.events[i+1:]...)
			return
		}
	}
}

func (t *Tracker) listeners() []Events {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Events, len(t.events))
	copy(out, t.events)
	return out
}

// Snapshot returns the current order view.
func (t *Tracker) Snapshot() models.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// Start subscribes to the order, fetches the baseline snapshot and begins
// fallback polling. Push and poll update the same snapshot; last arrival
// wins.
func (t *Tracker) Start(ctx context.Context, orderID, customerID string) error {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.active = true
	t.orderID = orderID
	t.customerID = customerID
	t.snapshot = models.Order{ID: orderID, CustomerID: customerID, Status: models.StatusPending}
	t.stopPoll = make(chan struct{})
	stop := t.stopPoll
	t.mu.Unlock()

	t.emitter.Emit(protocol.EventOrderSubscribe, protocol.SubscribePayload{OrderID: orderID, CustomerID: customerID})

	if err := t.pollOnce(ctx); err != nil {
		// baseline fetch failing is not fatal: push events and the next
		// poll round still converge the snapshot
		t.logger.Warn("baseline order fetch failed", "order_id", orderID, "error", err)
	}

	go t.pollLoop(ctx, stop)
	return nil
}

// Stop unsubscribes and cancels the fallback poll. Safe to call twice.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	orderID := t.orderID
	close(t.stopPoll)
	t.stopPoll = nil
	t.mu.Unlock()

	t.emitter.Emit(protocol.EventOrderUnsubscribe, protocol.UnsubscribePayload{OrderID: orderID})
}

// RequestETA asks the server for a fresh ETA over the channel; the answer
// arrives as an order:eta event.
func (t *Tracker) RequestETA() error {
	t.mu.Lock()
	orderID, active := t.orderID, t.active
	t.mu.Unlock()
	if !active {
		return ErrNotStarted
	}
	t.emitter.Emit(protocol.EventOrderGetETA, protocol.GetETAPayload{OrderID: orderID})
	return nil
}

// RateDriver submits a rating fire-and-forget. Bounds are validated locally.
func (t *Tracker) RateDriver(driverID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	t.mu.Lock()
	orderID := t.orderID
	t.mu.Unlock()
	t.emitter.Emit(protocol.EventDriverRate, protocol.RatePayload{
		OrderID:  orderID,
		DriverID: driverID,
		Rating:   rating,
		Comment:  comment,
	})
	return nil
}

func (t *Tracker) pollLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.pollOnce(ctx); err != nil {
				t.logger.Warn("order poll failed", "error", err)
			}
		}
	}
}

// pollOnce replaces the snapshot wholesale with the fetched order, keeping
// the version monotonic across both update paths.
func (t *Tracker) pollOnce(ctx context.Context) error {
	t.mu.Lock()
	orderID := t.orderID
	t.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	order, err := t.fetch.FetchOrder(fetchCtx, orderID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if !t.active || t.orderID != orderID {
		t.mu.Unlock()
		return nil
	}
	order.Status = models.NormalizeStatus(order.Status)
	version := t.snapshot.Version + 1
	order.Version = version
	t.snapshot = order
	snap := t.snapshot
	t.mu.Unlock()

	t.notifySnapshot(snap)
	return nil
}

// --- channel.Listener ---

// OnConnect re-subscribes after a reconnect; the server holds no replay
// buffer, so the subscription must be re-established on every fresh session.
func (t *Tracker) OnConnect() {
	t.mu.Lock()
	active := t.active
	orderID, customerID := t.orderID, t.customerID
	t.mu.Unlock()
	if active {
		t.emitter.Emit(protocol.EventOrderSubscribe, protocol.SubscribePayload{OrderID: orderID, CustomerID: customerID})
	}
}

func (t *Tracker) OnDisconnect() {}

func (t *Tracker) OnError(message string) {
	t.logger.Warn("channel error", "message", message)
}

func (t *Tracker) OnEvent(event string, data json.RawMessage) {
	switch event {
	case protocol.EventOrderDriverAssigned:
		p, err := protocol.DecodeDriverAssigned(data)
		if err != nil {
			t.logger.Warn("dropping driver_assigned", "error", err)
			return
		}
		if !t.forThisOrder(p.OrderID) {
			return
		}
		snap := t.apply(func(o *models.Order) {
			d := p.Driver
			o.Driver = &d
		})
		for _, ev := range t.listeners() {
			ev.DriverAssigned(p.Driver)
		}
		t.notifySnapshot(snap)

	case protocol.EventDriverLocation:
		p, err := protocol.DecodeDriverLocation(data)
		if err != nil {
			t.logger.Warn("dropping driver location", "error", err)
			return
		}
		if !t.forThisOrder(p.OrderID) {
			return
		}
		loc := models.Coord{Lat: p.Lat, Lng: p.Lng}
		snap := t.apply(func(o *models.Order) {
			if o.Driver != nil {
				// most-recently-received wins; no history retained
				o.Driver.Loc = loc
			}
		})
		for _, ev := range t.listeners() {
			ev.DriverLocation(loc)
		}
		t.notifySnapshot(snap)

	case protocol.EventOrderStatus:
		p, err := protocol.DecodeOrderStatus(data)
		if err != nil {
			t.logger.Warn("dropping order status", "error", err)
			return
		}
		if !t.forThisOrder(p.OrderID) {
			return
		}
		snap := t.apply(func(o *models.Order) { o.Status = models.NormalizeStatus(p.Status) })
		t.notifySnapshot(snap)

	case protocol.EventOrderETA:
		p := protocol.DecodeETA(data)
		if !t.forThisOrder(p.OrderID) {
			return
		}
		for _, ev := range t.listeners() {
			ev.ETAUpdated(p.ETA, p.Distance)
		}

	case protocol.EventOrderCompleted:
		p := protocol.DecodeCompleted(data)
		if !t.forThisOrder(p.OrderID) {
			return
		}
		snap := t.apply(func(o *models.Order) { o.Status = models.StatusDelivered })
		for _, ev := range t.listeners() {
			ev.Completed(p.RequestRating)
		}
		t.notifySnapshot(snap)

	case protocol.EventOrderNoDrivers:
		for _, ev := range t.listeners() {
			ev.NoDriversAvailable()
		}

	default:
		t.logger.Debug("ignoring event", "event", event)
	}
}

// forThisOrder tolerates payloads without an orderId: the server scopes
// emissions to the subscription, so an absent id means "this order".
func (t *Tracker) forThisOrder(orderID string) bool {
	if orderID == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return orderID == t.orderID
}

// apply mutates the snapshot under the lock and bumps its version.
func (t *Tracker) apply(fn func(*models.Order)) models.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snapshot)
	t.snapshot.Version++
	return t.snapshot
}

func (t *Tracker) notifySnapshot(snap models.Order) {
	for _, ev := range t.listeners() {
		ev.SnapshotUpdated(snap)
	}
}
