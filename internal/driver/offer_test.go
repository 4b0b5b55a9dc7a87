package driver

import (
	"sync"
	"testing"
	"time"

	"github.com/example/delivery-events/internal/models"
	"github.com/example/delivery-events/internal/protocol"
)

type sentEvent struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu   sync.Mutex
	sent []sentEvent
	up   bool
}

func (f *fakeEmitter) Emit(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{event, payload})
}

func (f *fakeEmitter) Connected() bool { return f.up }

func (f *fakeEmitter) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.event
	}
	return out
}

type eventsRec struct {
	mu         sync.Mutex
	offers     []models.DeliveryOffer
	countdowns []int
	expired    []string
	accepted   []string
	rejected   []string
	failed     []string
	registered int
	errors     []string
}

func (r *eventsRec) OfferReceived(o models.DeliveryOffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, o)
}

func (r *eventsRec) OfferCountdown(orderID string, secondsLeft int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countdowns = append(r.countdowns, secondsLeft)
}

func (r *eventsRec) OfferExpired(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, orderID)
}

func (r *eventsRec) OfferAccepted(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, orderID)
}

func (r *eventsRec) OfferRejected(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, orderID)
}

func (r *eventsRec) OfferFailed(orderID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, orderID)
}

func (r *eventsRec) Registered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered++
}

func (r *eventsRec) ErrorReceived(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *eventsRec) expiredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expired)
}

func (r *eventsRec) countdownCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.countdowns)
}

func newTestSession(tick time.Duration) (*Session, *fakeEmitter, *eventsRec) {
	em := &fakeEmitter{up: true}
	s := NewSession(em, Identity{ID: "d1", Name: "Tawanda", Phone: "+263771234567", Vehicle: "Bike"}, nil)
	s.tick = tick
	rec := &eventsRec{}
	s.AddListener(rec)
	return s, em, rec
}

func offerEvent(t *testing.T, s *Session, orderID string, expiresIn int) {
	t.Helper()
	b, err := protocol.Marshal(protocol.EventDeliveryOffer, protocol.EncodeOffer(models.DeliveryOffer{
		OrderID:        orderID,
		RestaurantName: "R",
		DropoffAddress: "D",
		Distance:       "2.0",
		Total:          10,
		Tip:            2,
		ExpiresIn:      expiresIn,
	}))
	if err != nil {
		t.Fatal(err)
	}
	env, err := protocol.Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	s.OnEvent(protocol.EventDeliveryOffer, env.Data)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterEmittedOnConnect(t *testing.T) {
	s, em, _ := newTestSession(time.Second)
	s.OnConnect()
	sent := em.sentEvents()
	if len(sent) != 1 || sent[0] != protocol.EventDriverRegister {
		t.Fatalf("expected single driver:register, got %v", sent)
	}
	em.mu.Lock()
	reg := em.sent[0].payload.(protocol.RegisterPayload)
	em.mu.Unlock()
	if reg.DriverID != "d1" || reg.Vehicle != "Bike" {
		t.Errorf("identity not carried: %+v", reg)
	}
	if reg.Lat != 0 || reg.Lng != 0 {
		t.Errorf("unknown location must default to 0,0")
	}
}

func TestLastOfferWins(t *testing.T) {
	s, _, rec := newTestSession(20 * time.Millisecond)

	offerEvent(t, s, "A", 30)
	offerEvent(t, s, "B", 30)

	cur, ok := s.CurrentOffer()
	if !ok || cur.OrderID != "B" {
		t.Fatalf("active offer: got %+v ok=%v, want B", cur, ok)
	}

	// A's countdown was cancelled: no expiry for A may ever surface.
	time.Sleep(100 * time.Millisecond)
	rec.mu.Lock()
	for _, id := range rec.expired {
		if id == "A" {
			t.Error("replaced offer A re-surfaced as expired")
		}
	}
	offers := len(rec.offers)
	rec.mu.Unlock()
	if offers != 2 {
		t.Errorf("OfferReceived notifications: got %d want 2", offers)
	}
}

func TestOfferExpiry(t *testing.T) {
	s, _, rec := newTestSession(50 * time.Millisecond)

	start := time.Now()
	offerEvent(t, s, "O1", 1)

	waitFor(t, func() bool { return rec.expiredCount() == 1 }, "expiry")
	elapsed := time.Since(start)
	if elapsed < 900*time.Millisecond {
		t.Errorf("expired too early: %v", elapsed)
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("expired too late: %v", elapsed)
	}
	if rec.countdownCount() == 0 {
		t.Error("no countdown ticks observed before expiry")
	}
	if _, ok := s.CurrentOffer(); ok {
		t.Error("slot must return to none after expiry")
	}

	// a second expiry for the same offer must never fire
	time.Sleep(150 * time.Millisecond)
	if rec.expiredCount() != 1 {
		t.Errorf("expiry fired %d times", rec.expiredCount())
	}
}

func TestAcceptConfirmedByServer(t *testing.T) {
	s, em, rec := newTestSession(20 * time.Millisecond)

	offerEvent(t, s, "O1", 30)
	if err := s.Accept(); err != nil {
		t.Fatal(err)
	}
	if err := s.Accept(); err != ErrOfferPending {
		t.Fatalf("second accept: got %v want ErrOfferPending", err)
	}

	found := false
	for _, e := range em.sentEvents() {
		if e == protocol.EventDeliveryAccept {
			found = true
		}
	}
	if !found {
		t.Fatal("delivery:accept not emitted")
	}

	s.OnEvent(protocol.EventDeliveryAccepted, []byte(`{"orderId":"O1"}`))
	rec.mu.Lock()
	acceptedLen := len(rec.accepted)
	rec.mu.Unlock()
	if acceptedLen != 1 {
		t.Fatalf("OfferAccepted notifications: got %d", acceptedLen)
	}
	if _, ok := s.CurrentOffer(); ok {
		t.Fatal("slot must clear after confirmation")
	}

	// duplicate terminal event is idempotently ignored
	s.OnEvent(protocol.EventDeliveryAccepted, []byte(`{"orderId":"O1"}`))
	rec.mu.Lock()
	acceptedLen = len(rec.accepted)
	rec.mu.Unlock()
	if acceptedLen != 1 {
		t.Fatalf("duplicate accepted re-notified, count=%d", acceptedLen)
	}

	// countdown stopped: no more ticks accumulate
	before := rec.countdownCount()
	time.Sleep(100 * time.Millisecond)
	if rec.countdownCount() != before {
		t.Error("countdown kept ticking after terminal state")
	}
}

func TestAcceptFailedDiscardsOffer(t *testing.T) {
	s, _, rec := newTestSession(20 * time.Millisecond)

	offerEvent(t, s, "O1", 30)
	if err := s.Accept(); err != nil {
		t.Fatal(err)
	}
	s.OnEvent(protocol.EventDeliveryAcceptFailed, []byte(`{"orderId":"O1","message":"Offer expired or already taken"}`))

	rec.mu.Lock()
	failed := len(rec.failed)
	rec.mu.Unlock()
	if failed != 1 {
		t.Fatalf("OfferFailed notifications: got %d", failed)
	}
	if _, ok := s.CurrentOffer(); ok {
		t.Fatal("failed offer must not return to offered state")
	}
}

func TestRejectClearsImmediately(t *testing.T) {
	s, em, rec := newTestSession(20 * time.Millisecond)

	if err := s.Reject("busy"); err != ErrNoOffer {
		t.Fatalf("reject without offer: got %v", err)
	}

	offerEvent(t, s, "O1", 30)
	if err := s.Reject("Driver declined"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.CurrentOffer(); ok {
		t.Fatal("slot must clear on local reject")
	}

	var rejectSent bool
	em.mu.Lock()
	for _, e := range em.sent {
		if e.event == protocol.EventDeliveryReject {
			rejectSent = true
			if p := e.payload.(protocol.RejectPayload); p.Reason != "Driver declined" {
				t.Errorf("reason: got %q", p.Reason)
			}
		}
	}
	em.mu.Unlock()
	if !rejectSent {
		t.Fatal("delivery:reject not emitted")
	}

	// the server echo for the already-cleared slot is a no-op
	s.OnEvent(protocol.EventDeliveryRejected, []byte(`{"orderId":"O1"}`))
	rec.mu.Lock()
	rejected := len(rec.rejected)
	rec.mu.Unlock()
	if rejected != 0 {
		t.Errorf("stale rejected echo surfaced %d notifications", rejected)
	}
}

func TestDisconnectStopsCountdown(t *testing.T) {
	s, _, rec := newTestSession(20 * time.Millisecond)

	offerEvent(t, s, "O1", 30)
	s.OnDisconnect()

	if _, ok := s.CurrentOffer(); ok {
		t.Fatal("slot must clear on disconnect")
	}
	before := rec.countdownCount()
	time.Sleep(100 * time.Millisecond)
	if rec.countdownCount() != before {
		t.Error("countdown kept ticking after disconnect")
	}
}

func TestUpdateDeliveryStatusValidates(t *testing.T) {
	s, em, _ := newTestSession(time.Second)
	if err := s.UpdateDeliveryStatus("O1", "teleported"); err != ErrInvalidStatus {
		t.Fatalf("got %v want ErrInvalidStatus", err)
	}
	if err := s.UpdateDeliveryStatus("O1", "picked_up"); err != nil {
		t.Fatal(err)
	}
	sent := em.sentEvents()
	if len(sent) != 1 || sent[0] != protocol.EventDeliveryStatus {
		t.Fatalf("sent: %v", sent)
	}
}
