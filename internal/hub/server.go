package hub

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-events/internal/fees"
	"github.com/example/delivery-events/internal/models"
	"github.com/example/delivery-events/internal/orders"
	"github.com/example/delivery-events/internal/protocol"
)

// Server exposes the websocket namespaces and the order REST surface the
// customer tracker polls.
type Server struct {
	hub    *Hub
	store  orders.Store
	fees   fees.Config
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(h *Hub, store orders.Store, feeCfg fees.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{hub: h, store: store, fees: feeCfg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc(protocol.NamespaceDrivers, s.hub.HandleDrivers)
	s.mux.HandleFunc(protocol.NamespaceCustomers, s.hub.HandleCustomers)
	s.mux.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods("GET")
	s.mux.HandleFunc("/api/v1/fees/estimate", s.handleFeeEstimate).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	CustomerID     string            `json:"customerId"`
	RestaurantName string            `json:"restaurantName"`
	RestaurantLat  float64           `json:"restaurantLat"`
	RestaurantLng  float64           `json:"restaurantLng"`
	Stops          []models.Coord    `json:"stops,omitempty"` // extra pickups after the restaurant
	DropoffAddress string            `json:"dropoffAddress"`
	DropoffLat     float64           `json:"dropoffLat"`
	DropoffLng     float64           `json:"dropoffLng"`
	Items          []models.LineItem `json:"items,omitempty"`
	Subtotal       float64           `json:"subtotal"`
	Tip            float64           `json:"tip"`
	Currency       string            `json:"currency"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RestaurantName == "" || req.DropoffAddress == "" {
		http.Error(w, "restaurantName and dropoffAddress are required", http.StatusBadRequest)
		return
	}

	restaurant := models.Coord{Lat: req.RestaurantLat, Lng: req.RestaurantLng}
	dropoff := models.Coord{Lat: req.DropoffLat, Lng: req.DropoffLng}
	// no driver exists yet, so the primary restaurant anchors the route start
	pickups := append([]models.Coord{restaurant}, req.Stops...)
	route := fees.OptimizeRoute(restaurant, dropoff, pickups)
	fee, _ := s.fees.EstimateRoute(route, dropoff)

	now := time.Now()
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	o := &models.Order{
		ID:             newID(),
		CustomerID:     req.CustomerID,
		RestaurantName: req.RestaurantName,
		RestaurantLoc:  restaurant,
		DropoffAddress: req.DropoffAddress,
		DropoffLoc:     dropoff,
		Items:          req.Items,
		Subtotal:       req.Subtotal,
		DeliveryFee:    fee,
		Tip:            req.Tip,
		Total:          req.Subtotal + fee + req.Tip,
		Currency:       currency,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	if err := s.store.SaveOrder(o); err != nil {
		s.logger.Error("order save failed", "order_id", o.ID, "error", err)
		http.Error(w, "could not save order", http.StatusInternalServerError)
		return
	}

	go s.hub.OfferOrder(*o)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, err := s.store.GetOrder(id)
	if err == orders.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("order fetch failed", "order_id", id, "error", err)
		http.Error(w, "could not fetch order", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(o)
}

type feeEstimateRequest struct {
	Stops   []models.Coord `json:"stops"`
	Dropoff models.Coord   `json:"dropoff"`
}

func (s *Server) handleFeeEstimate(w http.ResponseWriter, r *http.Request) {
	var req feeEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Stops) == 0 {
		http.Error(w, "at least one stop is required", http.StatusBadRequest)
		return
	}
	route := fees.OptimizeRoute(req.Stops[0], req.Dropoff, req.Stops)
	fee, distKm := s.fees.EstimateRoute(route, req.Dropoff)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]float64{"fee": fee, "distanceKm": distKm})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
