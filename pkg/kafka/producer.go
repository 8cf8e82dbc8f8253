package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

type Balancer int

const (
	RoundRobin Balancer = iota
	Hash
	Random
)

type RequiredAcks int

const (
	RequireNone RequiredAcks = iota
	RequireLocal
	RequireAll
)

// Producer publishes messages synchronously, returning the partition and
// offset assigned by the broker.
type Producer interface {
	PushMessage(ctx context.Context, key, value []byte, topic string) (partition int32, offset int64, err error)
	Close() error
}

type producer struct {
	sp sarama.SyncProducer
}

type producerOptions struct {
	balancer     Balancer
	requiredAcks RequiredAcks
}

type ProducerOption func(*producerOptions)

func WithBalancer(b Balancer) ProducerOption {
	return func(o *producerOptions) {
		o.balancer = b
	}
}

func WithRequiredAcks(acks RequiredAcks) ProducerOption {
	return func(o *producerOptions) {
		o.requiredAcks = acks
	}
}

func NewProducer(brokers []string, opts ...ProducerOption) (Producer, error) {
	options := &producerOptions{
		balancer:     RoundRobin,
		requiredAcks: RequireAll,
	}

	for _, opt := range opts {
		opt(options)
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 5

	switch options.balancer {
	case Hash:
		config.Producer.Partitioner = sarama.NewHashPartitioner
	case Random:
		config.Producer.Partitioner = sarama.NewRandomPartitioner
	default:
		config.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	}

	switch options.requiredAcks {
	case RequireNone:
		config.Producer.RequiredAcks = sarama.NoResponse
	case RequireLocal:
		config.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		config.Producer.RequiredAcks = sarama.WaitForAll
	}

	sp, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	return &producer{sp: sp}, nil
}

func (p *producer) PushMessage(ctx context.Context, key, value []byte, topic string) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.sp.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to send message: %w", err)
	}

	return partition, offset, nil
}

func (p *producer) Close() error {
	return p.sp.Close()
}
