package eventbus

import (
	"context"

	"infoportal/internal/ports"
)

// NoopBus drops every event. Used when no NATS url is configured.
type NoopBus struct{}

var _ ports.EventBus = NoopBus{}

func (NoopBus) Emit(context.Context, string, any) {}

func (NoopBus) Subscribe(string, func(string, []byte)) (func(), error) {
	return func() {}, nil
}
