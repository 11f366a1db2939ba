package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CZERTAINLY/Factory/internal/model"
)

// Notifier publishes machine events as JSON. Events of a machine go to
// <subject>.<machine id>.<event kind>, so a subscriber can pick
// e.g. factory.machine.*.failure.
type Notifier struct {
	client  *Client
	subject string
}

func NewNotifier(client *Client, subject string) *Notifier {
	if subject == "" {
		subject = model.DefaultNATSSubject
	}
	return &Notifier{client: client, subject: subject}
}

// Dial connects to url and returns a notifier owning the connection.
func Dial(ctx context.Context, cfg model.NATS) (*Notifier, error) {
	client, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS %s: %w", cfg.URL, err)
	}
	slog.InfoContext(ctx, "connected to NATS", "nats_url", cfg.URL, "subject", cfg.Subject)
	return NewNotifier(client, cfg.Subject), nil
}

func (n *Notifier) Subject(e model.Event) string {
	return n.subject + "." + e.MachineID.String() + "." + string(e.Kind)
}

func (n *Notifier) Notify(_ context.Context, e model.Event) error {
	if err := n.client.PublishJSON(n.Subject(e), e); err != nil {
		return fmt.Errorf("publishing %s event: %w", e.Kind, err)
	}
	return nil
}

func (n *Notifier) Close() error {
	n.client.Close()
	return nil
}
