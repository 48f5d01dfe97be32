package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes execution records and actionable candidates to their
// topics. Messages are keyed by pair so one pair stays ordered within a
// partition.
type Publisher struct {
	executions MessageWriter
	candidates MessageWriter
	logger     *slog.Logger
}

// NewPublisher creates a Publisher. Either writer may be nil to disable that
// topic.
func NewPublisher(executions, candidates MessageWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		executions: executions,
		candidates: candidates,
		logger:     logger.With(slog.String("component", "kafka_publisher")),
	}
}

// PublishExecution writes one execution record.
func (p *Publisher) PublishExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	if p == nil || p.executions == nil {
		return nil
	}
	msg, err := executionMessage(rec)
	if err != nil {
		return err
	}
	if err := p.executions.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("queue: publish execution %s: %w", rec.ID, err)
	}
	return nil
}

// PublishCandidates writes a batch of candidates.
func (p *Publisher) PublishCandidates(ctx context.Context, cands []domain.Candidate) error {
	if p == nil || p.candidates == nil || len(cands) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(cands))
	for _, c := range cands {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("queue: marshal candidate %s: %w", c.Route.Summary(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(c.Pair.Key().String()),
			Value: payload,
			Time:  c.EvaluatedAt,
		})
	}
	if err := p.candidates.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("queue: publish %d candidates: %w", len(msgs), err)
	}
	return nil
}

func executionMessage(rec domain.ExecutionRecord) (kafka.Message, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("queue: marshal execution %s: %w", rec.ID, err)
	}
	return kafka.Message{
		Key:   []byte(rec.Pair),
		Value: payload,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "mode", Value: []byte(rec.Mode)},
		},
	}, nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, w := range []MessageWriter{p.executions, p.candidates} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("close kafka writers", slog.String("error", err.Error()))
		return err
	}
	return nil
}
