package repository

import (
	"context"
	"time"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	pkgkafka "ChartFeed/pkg/kafka"
)

// KafkaReloadPublisher fans dataset reloads out to other replicas.
type KafkaReloadPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	origin   string
}

func NewKafkaReloadPublisher(producer *pkgkafka.Producer, topic, origin string) domrepo.InvalidationPublisher {
	return &KafkaReloadPublisher{producer: producer, topic: topic, origin: origin}
}

func (p *KafkaReloadPublisher) PublishReload(ctx context.Context, seriesID string) error {
	return p.producer.Publish(ctx, p.topic, []byte(seriesID), models.ReloadNotice{
		SeriesID: seriesID,
		Origin:   p.origin,
		At:       time.Now().Unix(),
	})
}

func (p *KafkaReloadPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopReloadPublisher is used when Kafka is disabled.
type NopReloadPublisher struct{}

func (NopReloadPublisher) PublishReload(context.Context, string) error { return nil }
func (NopReloadPublisher) Close() error                               { return nil }
