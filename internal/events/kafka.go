package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes events as JSON, keyed by appointment (or clinic) id
// so one appointment's events stay ordered within a partition.
type KafkaRecorder struct {
	writer messageWriter
}

func NewKafkaRecorder(brokers, topic string) *KafkaRecorder {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &KafkaRecorder{writer: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

type wireEvent struct {
	Type          string         `json:"event_type"`
	ClinicID      string         `json:"clinic_id"`
	AppointmentID string         `json:"appointment_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (k *KafkaRecorder) Record(ctx context.Context, ev Event) error {
	w := wireEvent{
		Type:       ev.Type,
		ClinicID:   ev.ClinicID.String(),
		Payload:    ev.Payload,
		OccurredAt: ev.OccurredAt,
	}
	key := w.ClinicID
	if ev.AppointmentID != nil {
		w.AppointmentID = ev.AppointmentID.String()
		key = w.AppointmentID
	}
	value, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal kafka event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (k *KafkaRecorder) Close() error {
	return k.writer.Close()
}
