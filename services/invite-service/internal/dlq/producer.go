package dlq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mentormesh/mentormesh/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

const Topic = "scheduling.invite.dlq.v1"

// Producer dead-letters invite jobs that exhausted their attempts. Publishing
// here is best effort; the job row keeps the failed status and last error
// either way.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(brokersRaw string, logger *slog.Logger) *Producer {
	brokers := kafkax.SplitBrokers(brokersRaw)
	if len(brokers) == 0 {
		logger.Warn("invite dlq disabled (no kafka brokers configured)")
		return &Producer{logger: logger}
	}
	return &Producer{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    Topic,
			Balancer: &kafka.Hash{},
		}),
		logger: logger,
	}
}

type entry struct {
	CallID           string `json:"call_id"`
	Kind             string `json:"kind"`
	CounterpartEmail string `json:"counterpart_email"`
	RequesterEmail   string `json:"requester_email"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	ErrorReason      string `json:"error_reason"`
	FailedAt         string `json:"failed_at"`
}

func (p *Producer) Publish(ctx context.Context, callID, kind, counterpartEmail, requesterEmail string, start, end time.Time, reason string) error {
	if p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(entry{
		CallID:           callID,
		Kind:             kind,
		CounterpartEmail: counterpartEmail,
		RequesterEmail:   requesterEmail,
		StartTime:        start.UTC().Format(time.RFC3339),
		EndTime:          end.UTC().Format(time.RFC3339),
		ErrorReason:      reason,
		FailedAt:         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(callID),
		Value: payload,
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	p.logger.Warn("invite job dead-lettered", "call_id", callID, "kind", kind, "reason", reason)
	return nil
}

func (p *Producer) Close() {
	if p.writer != nil {
		_ = p.writer.Close()
	}
}
