// Package ingest streams driver location fixes to Kafka so downstream
// consumers can hydrate the geo index independently of the hub.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-events/internal/models"
)

// LocationMessage is the wire shape on the location topic.
type LocationMessage struct {
	DriverID  string  `json:"driverId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishLocation(driverID string, loc models.Coord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(LocationMessage{
		DriverID:  driverID,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		Timestamp: time.Now().UnixMilli(),
	})
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(driverID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
