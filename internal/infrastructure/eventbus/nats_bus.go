package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"infoportal/internal/bootstrap/logging"
	"infoportal/internal/ports"
)

// NatsBus publishes core events to a NATS server. Publishing is
// fire-and-forget; a broken connection never fails the mutation that
// produced the event.
type NatsBus struct {
	conn *nats.Conn
}

var _ ports.EventBus = (*NatsBus)(nil)

func NewNatsBus(url string) (*NatsBus, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NatsBus{conn: conn}, nil
}

func (b *NatsBus) Emit(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Warn(ctx, "event payload encode failed",
			slog.String("subject", subject), slog.Any("error", err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		logging.Warn(ctx, "event publish failed",
			slog.String("subject", subject), slog.Any("error", err))
	}
}

func (b *NatsBus) Subscribe(subject string, fn func(subject string, data []byte)) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NatsBus) Close() {
	b.conn.Close()
}
