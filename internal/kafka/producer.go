package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
)

type Producer struct {
	Writer       *kafka.Writer
	OrdersTopic  string
	KitchenTopic string
	logger       *logger.Logger
}

// NewProducer writes to both topics through one writer. Messages are keyed
// by order id so events for one order stay ordered within a partition.
func NewProducer(brokers []string, ordersTopic, kitchenTopic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &Producer{
		Writer:       writer,
		OrdersTopic:  ordersTopic,
		KitchenTopic: kitchenTopic,
		logger:       log,
	}
}

func (p *Producer) publish(ctx context.Context, topic, key string, v interface{}) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

// PublishOrderEvent streams an order lifecycle event
func (p *Producer) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	if err := p.publish(ctx, p.OrdersTopic, event.OrderID, event); err != nil {
		return err
	}
	p.logger.LogKafka("PUBLISH", p.OrdersTopic, fmt.Sprintf("%s %s", event.Type, event.OrderID))
	return nil
}

// PublishTicketEvent streams a kitchen board event
func (p *Producer) PublishTicketEvent(ctx context.Context, event models.TicketEvent) error {
	if err := p.publish(ctx, p.KitchenTopic, event.OrderID, event); err != nil {
		return err
	}
	p.logger.LogKafka("PUBLISH", p.KitchenTopic, fmt.Sprintf("%s %s", event.Type, event.TicketID))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
