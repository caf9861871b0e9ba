package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// DomainEventsTopic is the single topic all domain events land on.
const DomainEventsTopic = "domain-events"

// KafkaPublisher ships domain events to Kafka through a buffered worker
// pool. Publish never blocks the request path; a full queue drops the event
// with an error rather than stalling the caller.
type KafkaPublisher struct {
	writer       *kafka.Writer
	eventChan    chan DomainEvent
	workerCount  int
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// NewKafkaPublisher creates a publisher with its worker pool running.
func NewKafkaPublisher(broker string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	kp := &KafkaPublisher{
		writer:       writer,
		eventChan:    make(chan DomainEvent, 1000),
		workerCount:  10,
		shutdownChan: make(chan struct{}),
	}
	kp.startWorkers()
	return kp
}

func (kp *KafkaPublisher) startWorkers() {
	for i := 0; i < kp.workerCount; i++ {
		kp.wg.Add(1)
		go kp.eventWorker(i)
	}
	logrus.Infof("kafka publisher started %d workers", kp.workerCount)
}

func (kp *KafkaPublisher) eventWorker(id int) {
	defer kp.wg.Done()

	for {
		select {
		case event := <-kp.eventChan:
			if err := kp.sendEventSync(event); err != nil {
				logrus.Errorf("kafka worker %d failed to send %s: %v", id, event.Type, err)
			}
		case <-kp.shutdownChan:
			logrus.Debugf("kafka worker %d shutting down", id)
			return
		}
	}
}

// Publish queues a domain event asynchronously. Non-blocking.
func (kp *KafkaPublisher) Publish(event DomainEvent) error {
	select {
	case kp.eventChan <- event:
		return nil
	default:
		return fmt.Errorf("domain event queue full, %s dropped", event.Type)
	}
}

// sendEventSync writes one event, keyed by tenant so per-tenant ordering
// holds within a partition.
func (kp *KafkaPublisher) sendEventSync(event DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	msg := kafka.Message{
		Topic: DomainEventsTopic,
		Key:   []byte(event.TenantID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "tenant_id", Value: []byte(event.TenantID.String())},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write domain event to kafka: %w", err)
	}
	return nil
}

// Close drains the worker pool and closes the writer.
func (kp *KafkaPublisher) Close() error {
	close(kp.shutdownChan)
	kp.wg.Wait()
	close(kp.eventChan)

	if err := kp.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
