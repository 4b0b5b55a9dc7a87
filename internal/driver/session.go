// Package driver implements the driver-side protocol: registration on every
// (re)connect, presence toggles, location streaming, and the accept/reject
// race for delivery offers.
package driver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-events/internal/models"
	"github.com/example/delivery-events/internal/protocol"
)

// Emitter is the outbound half of the channel the session drives. Satisfied
// by *channel.Channel.
type Emitter interface {
	Emit(event string, payload any)
	Connected() bool
}

// Identity is supplied by the surrounding application layer after login.
type Identity struct {
	ID      string
	Name    string
	Phone   string
	Vehicle string
	Loc     models.Coord // last known; 0,0 until the first fix
}

// Events is the capability interface UI consumers implement to observe the
// offer protocol. Callbacks run on the channel dispatch path; marshal onto
// the UI context before touching shared UI state.
type Events interface {
	OfferReceived(offer models.DeliveryOffer)
	OfferCountdown(orderID string, secondsLeft int)
	OfferExpired(orderID string)
	OfferAccepted(orderID string)
	OfferRejected(orderID string)
	OfferFailed(orderID, message string)
	Registered()
	ErrorReceived(message string)
}

var (
	ErrNoOffer       = errors.New("driver: no active offer")
	ErrOfferPending  = errors.New("driver: accept already pending")
	ErrInvalidStatus = errors.New("driver: invalid delivery status")
)

type offerState int

const (
	stateOffered offerState = iota
	stateAccepting
)

// offerSlot is the single outstanding offer. A new offer always replaces the
// current one: the server is the source of truth for which offer is valid.
type offerSlot struct {
	offer    models.DeliveryOffer
	state    offerState
	deadline time.Time
	stop     chan struct{}
}

// Session owns the driver's offer slot and identity. The slot is mutated
// only here, in response to channel events or explicit local actions.
type Session struct {
	emitter Emitter
	logger  *slog.Logger
	tick    time.Duration // countdown resolution, 1s in production

	mu       sync.Mutex
	identity Identity
	events   []Events
	slot     *offerSlot
}

func NewSession(e Emitter, id Identity, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		emitter:  e,
		identity: id,
		logger:   logger.With("driver_id", id.ID),
		tick:     time.Second,
	}
}

func (s *Session) AddListener(ev Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing == ev {
			return
		}
	}
	s.events = append(s.events, ev)
}

func (s *Session) RemoveListener(ev Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.events {
		if existing == ev {
			s.events = append(s.events[:i:i], s.events[i+1:]...)
			return
		}
	}
}

func (s *Session) listeners() []Events {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Events, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// CurrentOffer returns the outstanding offer, if any.
func (s *Session) CurrentOffer() (models.DeliveryOffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slot == nil {
		return models.DeliveryOffer{}, false
	}
	return s.slot.offer, true
}

// UpdateLocation records the latest fix and streams it to the server.
func (s *Session) UpdateLocation(lat, lng float64) {
	s.mu.Lock()
	s.identity.Loc = models.Coord{Lat: lat, Lng: lng}
	s.mu.Unlock()
	s.emitter.Emit(protocol.EventDriverLocationUpdate, protocol.LocationPayload{Lat: lat, Lng: lng})
}

func (s *Session) GoOnline()  { s.emitter.Emit(protocol.EventDriverGoOnline, nil) }
func (s *Session) GoOffline() { s.emitter.Emit(protocol.EventDriverGoOffline, nil) }

// Accept requests the outstanding offer. The slot moves to a pending state
// until the server confirms with delivery:accepted or refuses with
// delivery:accept_failed; the countdown keeps running meanwhile.
func (s *Session) Accept() error {
	s.mu.Lock()
	if s.slot == nil {
		s.mu.Unlock()
		return ErrNoOffer
	}
	if s.slot.state == stateAccepting {
		s.mu.Unlock()
		return ErrOfferPending
	}
	s.slot.state = stateAccepting
	orderID := s.slot.offer.OrderID
	s.mu.Unlock()

	s.emitter.Emit(protocol.EventDeliveryAccept, protocol.AcceptPayload{OrderID: orderID})
	return nil
}

// Reject declines the outstanding offer and clears the slot immediately; no
// server confirmation is awaited.
func (s *Session) Reject(reason string) error {
	s.mu.Lock()
	if s.slot == nil {
		s.mu.Unlock()
		return ErrNoOffer
	}
	orderID := s.slot.offer.OrderID
	s.clearSlotLocked()
	s.mu.Unlock()

	s.emitter.Emit(protocol.EventDeliveryReject, protocol.RejectPayload{OrderID: orderID, Reason: reason})
	return nil
}

// UpdateDeliveryStatus reports progression on an assigned order.
func (s *Session) UpdateDeliveryStatus(orderID, status string) error {
	if !models.ValidDeliveryStatus(status) {
		return ErrInvalidStatus
	}
	s.emitter.Emit(protocol.EventDeliveryStatus, protocol.StatusUpdatePayload{OrderID: orderID, Status: status})
	return nil
}

// --- channel.Listener ---

// OnConnect registers the driver before any other traffic on the fresh
// session; the server ignores everything else until registration lands.
func (s *Session) OnConnect() {
	s.mu.Lock()
	id := s.identity
	s.mu.Unlock()
	s.emitter.Emit(protocol.EventDriverRegister, protocol.RegisterPayload{
		DriverID: id.ID,
		Name:     id.Name,
		Phone:    id.Phone,
		Vehicle:  id.Vehicle,
		Lat:      id.Loc.Lat,
		Lng:      id.Loc.Lng,
	})
}

// OnDisconnect stops the offer countdown; the slot does not survive a
// connection loss since the server will re-dispatch if the offer is still
// live.
func (s *Session) OnDisconnect() {
	s.mu.Lock()
	hadOffer := s.slot != nil
	s.clearSlotLocked()
	s.mu.Unlock()
	if hadOffer {
		s.logger.Info("offer slot cleared on disconnect")
	}
}

func (s *Session) OnError(message string) {
	for _, ev := range s.listeners() {
		ev.ErrorReceived(message)
	}
}

func (s *Session) OnEvent(event string, data json.RawMessage) {
	switch event {
	case protocol.EventDeliveryOffer:
		offer, err := protocol.DecodeOffer(data)
		if err != nil {
			s.logger.Warn("dropping offer", "error", err)
			return
		}
		s.handleOffer(offer)
	case protocol.EventDeliveryAccepted:
		p, err := protocol.DecodeAccepted(data)
		if err != nil {
			s.logger.Warn("dropping accepted", "error", err)
			return
		}
		s.handleAccepted(p.OrderID)
	case protocol.EventDeliveryAcceptFailed:
		p := protocol.DecodeAcceptFailed(data)
		s.handleAcceptFailed(p.OrderID, p.Message)
	case protocol.EventDeliveryRejected:
		p, err := protocol.DecodeRejected(data)
		if err != nil {
			s.logger.Warn("dropping rejected", "error", err)
			return
		}
		s.handleRejected(p.OrderID)
	case protocol.EventDriverRegistered:
		for _, ev := range s.listeners() {
			ev.Registered()
		}
	case protocol.EventError:
		p := protocol.DecodeError(data)
		for _, ev := range s.listeners() {
			ev.ErrorReceived(p.Message)
		}
	default:
		s.logger.Debug("ignoring event", "event", event)
	}
}

// handleOffer installs a new offer, replacing any outstanding one:
// last-offer-wins, with the prior countdown cancelled.
func (s *Session) handleOffer(offer models.DeliveryOffer) {
	s.mu.Lock()
	s.clearSlotLocked()
	slot := &offerSlot{
		offer:    offer,
		state:    stateOffered,
		deadline: time.Now().Add(time.Duration(offer.ExpiresIn) * time.Second),
		stop:     make(chan struct{}),
	}
	s.slot = slot
	s.mu.Unlock()

	s.logger.Info("delivery offer received", "order_id", offer.OrderID, "expires_in", offer.ExpiresIn)
	for _, ev := range s.listeners() {
		ev.OfferReceived(offer)
	}
	go s.countdown(slot)
}

// countdown ticks for UI display and fires expiry at the local deadline.
// Expiry is a local view; the server's own expiry may differ slightly.
func (s *Session) countdown(slot *offerSlot) {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-slot.stop:
			return
		case <-t.C:
			remaining := time.Until(slot.deadline)
			if remaining <= 0 {
				s.expire(slot)
				return
			}
			secondsLeft := int(remaining.Milliseconds() / 1000)
			for _, ev := range s.listeners() {
				ev.OfferCountdown(slot.offer.OrderID, secondsLeft)
			}
		}
	}
}

func (s *Session) expire(slot *offerSlot) {
	s.mu.Lock()
	if s.slot != slot {
		// already replaced or terminated; expiry is a no-op
		s.mu.Unlock()
		return
	}
	s.clearSlotLocked()
	s.mu.Unlock()

	s.logger.Info("offer expired", "order_id", slot.offer.OrderID)
	for _, ev := range s.listeners() {
		ev.OfferExpired(slot.offer.OrderID)
	}
}

func (s *Session) handleAccepted(orderID string) {
	s.mu.Lock()
	if s.slot == nil || s.slot.offer.OrderID != orderID {
		// stale confirmation for a cleared slot: idempotent no-op
		s.mu.Unlock()
		return
	}
	s.clearSlotLocked()
	s.mu.Unlock()

	s.logger.Info("delivery accepted", "order_id", orderID)
	for _, ev := range s.listeners() {
		ev.OfferAccepted(orderID)
	}
}

// handleAcceptFailed discards the pending offer; it does not return to the
// offered state. The failure surfaces as a recoverable message.
func (s *Session) handleAcceptFailed(orderID, message string) {
	s.mu.Lock()
	if s.slot == nil || (orderID != "" && s.slot.offer.OrderID != orderID) {
		s.mu.Unlock()
		return
	}
	failedID := s.slot.offer.OrderID
	s.clearSlotLocked()
	s.mu.Unlock()

	s.logger.Warn("accept failed", "order_id", failedID, "message", message)
	for _, ev := range s.listeners() {
		ev.OfferFailed(failedID, message)
	}
}

func (s *Session) handleRejected(orderID string) {
	s.mu.Lock()
	if s.slot == nil || s.slot.offer.OrderID != orderID {
		s.mu.Unlock()
		return
	}
	s.clearSlotLocked()
	s.mu.Unlock()

	for _, ev := range s.listeners() {
		ev.OfferRejected(orderID)
	}
}

// clearSlotLocked stops the countdown and empties the slot. Callers hold mu.
func (s *Session) clearSlotLocked() {
	if s.slot == nil {
		return
	}
	close(s.slot.stop)
	s.slot = nil
}
