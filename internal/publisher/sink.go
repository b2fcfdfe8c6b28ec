// Package publisher turns crawl outcomes into messages and fans them out to sinks.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// TopicSink publishes every outcome to a single topic.
type TopicSink struct {
	pub   crawler.Publisher
	topic string
}

// NewTopicSink binds a Publisher to a topic.
func NewTopicSink(pub crawler.Publisher, topic string) (*TopicSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &TopicSink{pub: pub, topic: topic}, nil
}

// Record publishes the outcome.
func (s *TopicSink) Record(ctx context.Context, outcome crawler.Outcome) error {
	if _, err := s.pub.Publish(ctx, s.topic, outcome); err != nil {
		return fmt.Errorf("publish outcome %s: %w", outcome.URL, err)
	}
	return nil
}

// Fanout records each outcome in every sink. All sinks are attempted even
// when one fails; the failures are joined.
type Fanout []crawler.OutcomeSink

// Record implements crawler.OutcomeSink.
func (f Fanout) Record(ctx context.Context, outcome crawler.Outcome) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Record(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes outcomes to a zap logger. Failures log at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("outcome")}
}

// Record implements crawler.OutcomeSink.
func (s *LogSink) Record(_ context.Context, o crawler.Outcome) error {
	fields := []zap.Field{
		zap.String("crawl_key", o.Key),
		zap.String("url", o.URL),
		zap.String("kind", string(o.Kind)),
		zap.String("status", string(o.Status)),
		zap.Int("attempt", o.Attempt),
		zap.Duration("duration", o.Duration),
	}
	if len(o.Categories) > 0 {
		fields = append(fields, zap.Strings("categories", o.Categories))
	}
	if o.Status == crawler.OutcomeVisited {
		s.logger.Debug("item resolved", fields...)
		return nil
	}
	s.logger.Warn("item resolved", append(fields, zap.String("error", o.Error))...)
	return nil
}

var (
	_ crawler.OutcomeSink = (*TopicSink)(nil)
	_ crawler.OutcomeSink = Fanout(nil)
	_ crawler.OutcomeSink = (*LogSink)(nil)
)
