// internal/notify/sink.go
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"custody-ledger/internal/domain"
	"custody-ledger/pkg/rabbitmq"
)

// BrokerSink publishes notifications to a topic exchange. The routing key is the
// notification kind, so consumers can bind to "settlement.*" or "alert.#".
type BrokerSink struct {
	publisher rabbitmq.Publisher
	exchange  string
}

// NewBrokerSink creates a sink publishing to exchange.
func NewBrokerSink(publisher rabbitmq.Publisher, exchange string) *BrokerSink {
	if exchange == "" {
		exchange = "custody_events"
	}
	return &BrokerSink{publisher: publisher, exchange: exchange}
}

func (s *BrokerSink) Notify(ctx context.Context, n domain.Notification) error {
	if err := s.publisher.Publish(ctx, s.exchange, string(n.Kind), n); err != nil {
		return fmt.Errorf("publish %s notification for %s: %w", n.Kind, n.Reference, err)
	}
	return nil
}

// LogSink writes notifications to the log. Operator alerts are logged at Error.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, n domain.Notification) error {
	level := slog.LevelInfo
	if strings.HasPrefix(string(n.Kind), "alert.") {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, n.Title, "kind", n.Kind, "user_id", n.UserID, "reference", n.Reference, "body", n.Body)
	return nil
}
