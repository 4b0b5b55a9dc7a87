package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeOfferDefaults(t *testing.T) {
	data := json.RawMessage(`{
		"orderId":"O1","restaurantName":"Mama's Kitchen",
		"restaurantLat":-17.82,"restaurantLng":31.05,
		"dropoffAddress":"12 Samora Ave","dropoffLat":-17.83,"dropoffLng":31.04
	}`)
	offer, err := DecodeOffer(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offer.Distance != "0" {
		t.Errorf("distance default: got %q want %q", offer.Distance, "0")
	}
	if offer.ExpiresIn != 30 {
		t.Errorf("expiresIn default: got %d want 30", offer.ExpiresIn)
	}
	if offer.Total != 0 || offer.Tip != 0 {
		t.Errorf("monetary defaults: got total=%f tip=%f", offer.Total, offer.Tip)
	}
}

func TestDecodeOfferMissingRequired(t *testing.T) {
	data := json.RawMessage(`{"restaurantName":"X","restaurantLat":1,"restaurantLng":2,"dropoffAddress":"Y","dropoffLat":3,"dropoffLng":4}`)
	_, err := DecodeOffer(data)
	var mf *ErrMissingField
	if !errors.As(err, &mf) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if mf.Field != "orderId" {
		t.Errorf("field: got %q want orderId", mf.Field)
	}
}

func TestDecodeOfferEncodeRoundTrip(t *testing.T) {
	orig, err := DecodeOffer(json.RawMessage(`{
		"orderId":"O2","restaurantName":"R","restaurantLat":1,"restaurantLng":2,
		"dropoffAddress":"D","dropoffLat":3,"dropoffLng":4,
		"distance":"4.2","total":12.5,"tip":2,"expiresIn":45
	}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(EncodeOffer(orig))
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeOffer(b)
	if err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if got != orig {
		t.Errorf("round trip changed offer: got %+v want %+v", got, orig)
	}
}

func TestDecodeDriverAssignedDefaults(t *testing.T) {
	p, err := DecodeDriverAssigned(json.RawMessage(`{"driver":{"id":"d1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Driver.Name != "Driver" || p.Driver.Vehicle != "Car" {
		t.Errorf("defaults: got name=%q vehicle=%q", p.Driver.Name, p.Driver.Vehicle)
	}
	if p.Driver.Loc.Lat != 0 || p.Driver.Loc.Lng != 0 {
		t.Errorf("coords should default to 0,0")
	}
}

func TestDecodeDriverAssignedMissingID(t *testing.T) {
	if _, err := DecodeDriverAssigned(json.RawMessage(`{"driver":{"name":"n"}}`)); err == nil {
		t.Fatal("expected error for missing driver.id")
	}
	if _, err := DecodeDriverAssigned(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing driver object")
	}
}

func TestDecodeOrderStatusRequiresStatus(t *testing.T) {
	if _, err := DecodeOrderStatus(json.RawMessage(`{"orderId":"O1"}`)); err == nil {
		t.Fatal("expected error for missing status")
	}
	p, err := DecodeOrderStatus(json.RawMessage(`{"status":"preparing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != "preparing" {
		t.Errorf("status: got %q", p.Status)
	}
}

func TestDecodeCompletedDefaultsRequestRating(t *testing.T) {
	if p := DecodeCompleted(json.RawMessage(`{}`)); !p.RequestRating {
		t.Error("requestRating should default to true")
	}
	if p := DecodeCompleted(json.RawMessage(`{"requestRating":false}`)); p.RequestRating {
		t.Error("explicit false must be honored")
	}
}

func TestDecodeErrorFallback(t *testing.T) {
	if p := DecodeError(nil); p.Message != DefaultErrorText {
		t.Errorf("got %q", p.Message)
	}
	if p := DecodeError(json.RawMessage(`{"message":"boom"}`)); p.Message != "boom" {
		t.Errorf("got %q", p.Message)
	}
}

func TestUnmarshalEnvelope(t *testing.T) {
	b, err := Marshal(EventDeliveryAccept, AcceptPayload{OrderID: "O1"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if env.Event != EventDeliveryAccept {
		t.Errorf("event: got %q", env.Event)
	}
	if _, err := Unmarshal([]byte(`{"data":{}}`)); err == nil {
		t.Error("envelope without event must fail")
	}
	if _, err := Unmarshal([]byte(`not json`)); err == nil {
		t.Error("garbage must fail")
	}
}

func TestDecodeRegisterDefaultsVehicle(t *testing.T) {
	p, err := DecodeRegister(json.RawMessage(`{"driverId":"d1","name":"Tawanda"}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Vehicle != DefaultVehicle {
		t.Errorf("vehicle default: got %q", p.Vehicle)
	}
	if _, err := DecodeRegister(json.RawMessage(`{"name":"x"}`)); err == nil {
		t.Error("register without driverId must fail")
	}
}
