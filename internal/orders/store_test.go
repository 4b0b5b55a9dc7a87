package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/delivery-events/internal/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.GetOrder("nope"); err != ErrNotFound {
		t.Fatalf("missing order: got %v", err)
	}

	o := &models.Order{ID: "O1", Status: models.StatusPending}
	if err := m.SaveOrder(o); err != nil {
		t.Fatal(err)
	}

	o.Status = models.StatusPreparing
	if err := m.UpdateOrder(o); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetOrder("O1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusPreparing {
		t.Errorf("status: got %q", got.Status)
	}

	// returned order is a copy; mutating it must not leak into the store
	got.Status = models.StatusCancelled
	again, _ := m.GetOrder("O1")
	if again.Status != models.StatusPreparing {
		t.Error("GetOrder leaked internal state")
	}
}

func TestClientFetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/orders/O1":
			_ = json.NewEncoder(w).Encode(models.Order{ID: "O1", Status: models.StatusReady})
		case "/api/v1/orders/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	o, err := c.FetchOrder(context.Background(), "O1")
	if err != nil {
		t.Fatal(err)
	}
	if o.ID != "O1" || o.Status != models.StatusReady {
		t.Errorf("fetched order: %+v", o)
	}

	if _, err := c.FetchOrder(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("missing order: got %v", err)
	}

	if _, err := c.FetchOrder(context.Background(), "boom"); err == nil {
		t.Error("5xx must surface an error")
	}
}
