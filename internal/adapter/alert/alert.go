// Package alert delivers operational alerts for humans: a Kafka topic when
// brokers are configured, the error log otherwise.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const publishTimeout = 5 * time.Second

// Event is the JSON value written to the alert topic.
type Event struct {
	Subject string            `json:"subject"`
	Fields  map[string]string `json:"fields,omitempty"`
	Service string            `json:"service"`
	At      time.Time         `json:"at"`
}

// messageWriter is the part of *kafka.Writer the alerter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LogAlerter writes alerts to the error log only.
type LogAlerter struct {
	log zerolog.Logger
}

// NewLogAlerter creates a log-only alerter.
func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (a *LogAlerter) Alert(_ context.Context, subject string, fields map[string]string) {
	logAlert(a.log, subject, fields)
	metrics.AlertsRaised.WithLabelValues("log").Inc()
}

// Close is a no-op.
func (a *LogAlerter) Close() error { return nil }

// KafkaAlerter publishes alerts to a Kafka topic and logs them as well.
type KafkaAlerter struct {
	writer  messageWriter
	service string
	now     func() time.Time
	log     zerolog.Logger
}

// NewKafkaAlerter creates an alerter writing to topic on brokers.
func NewKafkaAlerter(brokers []string, topic, service string, log zerolog.Logger) *KafkaAlerter {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           publishTimeout,
	}
	return newKafkaAlerter(w, service, log)
}

func newKafkaAlerter(w messageWriter, service string, log zerolog.Logger) *KafkaAlerter {
	return &KafkaAlerter{writer: w, service: service, now: time.Now, log: log}
}

// Alert logs the alert and publishes it. Publishing failures are logged and dropped.
func (a *KafkaAlerter) Alert(ctx context.Context, subject string, fields map[string]string) {
	logAlert(a.log, subject, fields)

	value, err := json.Marshal(Event{Subject: subject, Fields: fields, Service: a.service, At: a.now().UTC()})
	if err != nil {
		a.log.Warn().Err(err).Str("subject", subject).Msg("alert: marshal failed")
		return
	}

	// The alert must go out even when the triggering request was canceled.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := a.writer.WriteMessages(pubCtx, kafka.Message{Key: []byte(subject), Value: value}); err != nil {
		a.log.Warn().Err(err).Str("subject", subject).Msg("alert: kafka publish failed")
		metrics.AlertsRaised.WithLabelValues("kafka_failed").Inc()
		return
	}
	metrics.AlertsRaised.WithLabelValues("kafka").Inc()
}

// Close flushes and closes the writer.
func (a *KafkaAlerter) Close() error {
	return a.writer.Close()
}

// Alerter is an alert sink that owns resources.
type Alerter interface {
	ports.Alerter
	Close() error
}

// New picks the Kafka alerter when brokers are configured.
func New(cfg config.KafkaConfig, service string, log zerolog.Logger) Alerter {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		log.Info().Msg("alert: no kafka brokers configured, alerts go to the log only")
		return NewLogAlerter(log)
	}
	log.Info().Strs("brokers", brokers).Str("topic", cfg.AlertTopic).Msg("alert: publishing to kafka")
	return NewKafkaAlerter(brokers, cfg.AlertTopic, service, log)
}

func logAlert(log zerolog.Logger, subject string, fields map[string]string) {
	ev := log.Error().Str("alert", subject)
	for k, v := range fields {
		ev = ev.Str(k, v)
	}
	ev.Msg("operational alert")
}
