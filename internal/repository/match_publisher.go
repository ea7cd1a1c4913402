package repository

import (
	"context"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	pkgkafka "FinScreen/pkg/kafka"
)

// MatchEvent is the wire form of one match on the matches topic.
type MatchEvent struct {
	Symbol      string `json:"symbol"`
	Rule        string `json:"rule"`
	WindowStart int64  `json:"window_start"` // unix ms
	Volume      string `json:"volume"`
	AvgVolume   string `json:"avg_volume"`
	Multiple    string `json:"multiple"`
	Notional    string `json:"notional"`
	Value       string `json:"value"`
	Currency    string `json:"currency"`
	Rate        string `json:"rate"`
	Gap         bool   `json:"gap"`
}

func toMatchEvent(windowStart time.Time, m models.MatchRecord) MatchEvent {
	return MatchEvent{
		Symbol:      m.Symbol,
		Rule:        string(m.Rule),
		WindowStart: windowStart.UnixMilli(),
		Volume:      m.Volume.String(),
		AvgVolume:   m.AvgVolume.String(),
		Multiple:    m.Multiple.StringFixed(4),
		Notional:    m.Notional.String(),
		Value:       m.Value.StringFixed(2),
		Currency:    m.Currency,
		Rate:        m.Rate.String(),
		Gap:         m.Gap,
	}
}

// KafkaMatchPublisher publishes every match of a window as one keyed message.
type KafkaMatchPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaMatchPublisher creates Kafka publisher.
func NewKafkaMatchPublisher(producer *pkgkafka.Producer, topic string) *KafkaMatchPublisher {
	return &KafkaMatchPublisher{producer: producer, topic: topic}
}

var _ drepo.MatchPublisher = (*KafkaMatchPublisher)(nil)

func (p *KafkaMatchPublisher) Publish(ctx context.Context, windowStart time.Time, matches []models.MatchRecord) error {
	if len(matches) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(matches))
	for i, m := range matches {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(m.Symbol),
			Value: toMatchEvent(windowStart, m),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaMatchPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopMatchPublisher drops matches. Used when Kafka is disabled.
type NoopMatchPublisher struct{}

func (NoopMatchPublisher) Publish(context.Context, time.Time, []models.MatchRecord) error { return nil }
func (NoopMatchPublisher) Close() error                                                 { return nil }
