// Package ingest publishes partner location samples to Kafka for the
// analytics pipeline. The push channel stays the low-latency path; Kafka
// only sees a configurable fraction of updates.
package ingest

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/partner-dispatch/internal/models"
)

// LocationUpdate is the Kafka message payload, keyed by partner id.
type LocationUpdate struct {
	PartnerID   string       `json:"partner_id"`
	Loc         models.Coord `json:"location"`
	VehicleType string       `json:"vehicle_type,omitempty"`
	Timestamp   int64        `json:"timestamp"`
}

// Publisher is what the push channel handler holds; NopPublisher stands in
// when Kafka is not configured.
type Publisher interface {
	PublishLocation(u LocationUpdate) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) PublishLocation(u LocationUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.PartnerID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) PublishLocation(LocationUpdate) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Sampler gates which location updates reach Kafka. rate is the fraction
// published, clamped to [0, 1].
type Sampler struct {
	mu   sync.Mutex
	rate float64
	rnd  func() float64
}

func NewSampler(rate float64) *Sampler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Sampler{rate: rate, rnd: rand.Float64}
}

func (s *Sampler) Sample() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rate >= 1 {
		return true
	}
	if s.rate <= 0 {
		return false
	}
	return s.rnd() < s.rate
}
