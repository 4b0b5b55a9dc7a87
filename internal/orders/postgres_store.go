package orders

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/delivery-events/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveOrder(o *models.Order) error {
	_, err := p.db.Exec(`INSERT INTO orders(id, customer_id, restaurant_name, restaurant_lat, restaurant_lng, dropoff_address, dropoff_lat, dropoff_lng, subtotal, delivery_fee, tip, total, currency, status, driver_id, created_at, updated_at, version) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		o.ID, o.CustomerID, o.RestaurantName, o.RestaurantLoc.Lat, o.RestaurantLoc.Lng, o.DropoffAddress, o.DropoffLoc.Lat, o.DropoffLoc.Lng, o.Subtotal, o.DeliveryFee, o.Tip, o.Total, o.Currency, o.Status, driverID(o), o.CreatedAt, o.UpdatedAt, o.Version)
	return err
}

func (p *PostgresStore) UpdateOrder(o *models.Order) error {
	_, err := p.db.Exec(`UPDATE orders SET status=$1, driver_id=$2, updated_at=$3, version=$4 WHERE id=$5`,
		o.Status, driverID(o), time.Now(), o.Version, o.ID)
	return err
}

func (p *PostgresStore) GetOrder(id string) (*models.Order, error) {
	row := p.db.QueryRow(`SELECT id, customer_id, restaurant_name, restaurant_lat, restaurant_lng, dropoff_address, dropoff_lat, dropoff_lng, subtotal, delivery_fee, tip, total, currency, status, driver_id, created_at, updated_at, version FROM orders WHERE id=$1`, id)
	var o models.Order
	var driver sql.NullString
	err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantName, &o.RestaurantLoc.Lat, &o.RestaurantLoc.Lng, &o.DropoffAddress, &o.DropoffLoc.Lat, &o.DropoffLoc.Lng, &o.Subtotal, &o.DeliveryFee, &o.Tip, &o.Total, &o.Currency, &o.Status, &driver, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driver.Valid && driver.String != "" {
		o.Driver = &models.DriverInfo{ID: driver.String}
	}
	return &o, nil
}

func driverID(o *models.Order) sql.NullString {
	if o.Driver == nil || o.Driver.ID == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: o.Driver.ID, Valid: true}
}
