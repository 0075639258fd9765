package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Producer is the subset of the Kafka producer the publisher needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// KafkaPublisher writes events as JSON records keyed by the resolved identity,
// so every resolution of one identity lands on the same partition.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(producer Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	id := event.ResolvedID
	if id == 0 {
		id = event.AnchorID
	}
	return p.producer.Produce(ctx, []byte(strconv.FormatInt(id, 10)), value)
}
