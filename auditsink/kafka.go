package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	identity "github.com/clinicore/identity"
)

const schemaVersion = "1.0"

// KafkaConfig configures the audit topic.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Service     string
	Environment string
}

// NewKafkaProducer builds the async producer used by KafkaSink.
func NewKafkaProducer(cfg KafkaConfig) (sarama.AsyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("auditsink: at least one kafka broker is required")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

type envelope struct {
	EventID   string              `json:"event_id"`
	EventType string              `json:"event_type"`
	Timestamp time.Time           `json:"timestamp"`
	Version   string              `json:"version"`
	Payload   identity.AuditEvent `json:"payload"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

// KafkaSink publishes audit events as JSON envelopes keyed by user id, so
// the events of one account stay ordered within a partition.
type KafkaSink struct {
	producer sarama.AsyncProducer
	cfg      KafkaConfig
	logger   *zap.Logger

	failed    atomic.Uint64
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewKafkaSink(producer sarama.AsyncProducer, cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if producer == nil {
		return nil, errors.New("auditsink: producer is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "identity.audit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &KafkaSink{
		producer: producer,
		cfg:      cfg,
		logger:   logger.Named("audit.kafka"),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.handleErrors()
	return s, nil
}

func (s *KafkaSink) handleErrors() {
	defer s.wg.Done()
	for {
		select {
		case perr, ok := <-s.producer.Errors():
			if !ok {
				return
			}
			if perr == nil {
				continue
			}
			s.failed.Add(1)
			s.logger.Error("audit publish failed",
				zap.Error(perr.Err),
				zap.String("topic", perr.Msg.Topic),
			)
		case <-s.done:
			return
		}
	}
}

func (s *KafkaSink) Emit(ctx context.Context, ev identity.AuditEvent) {
	body, err := json.Marshal(envelope{
		EventID:   ev.ID,
		EventType: "identity.audit." + string(ev.Action),
		Timestamp: ev.Timestamp.UTC(),
		Version:   schemaVersion,
		Payload:   ev,
		Metadata: map[string]string{
			"service":     s.cfg.Service,
			"environment": s.cfg.Environment,
		},
	})
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("marshal audit envelope", zap.Error(err))
		return
	}

	key := ev.UserID
	if key == "" {
		key = ev.Email
	}
	msg := &sarama.ProducerMessage{
		Topic: s.cfg.Topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	}

	select {
	case s.producer.Input() <- msg:
	case <-ctx.Done():
		s.failed.Add(1)
	}
}

// Failed counts events that could not be published.
func (s *KafkaSink) Failed() uint64 {
	return s.failed.Load()
}

// Close flushes the producer and stops the error handler.
func (s *KafkaSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.producer.Close()
		close(s.done)
		s.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
