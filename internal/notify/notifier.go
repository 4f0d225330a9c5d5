package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Notifier delivers an HTML email.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Message is the envelope published for the mail worker.
type Message struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	HTML     string    `json:"html"`
	QueuedAt time.Time `json:"queued_at"`
}

// Publisher is the subset of *nats.Conn used by NATSNotifier.
type Publisher interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSNotifier hands emails to an outbound mail worker over NATS.
type NATSNotifier struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

func NewNATSNotifier(pub Publisher, subject string) *NATSNotifier {
	return &NATSNotifier{pub: pub, subject: subject, now: time.Now}
}

// Connect dials NATS with reconnect settings suited to a long-lived API process.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Send publishes the message and flushes within the context deadline, so a
// nil error means the server accepted it.
func (n *NATSNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return errors.New("notify: empty recipient")
	}
	payload, err := json.Marshal(Message{To: to, Subject: subject, HTML: htmlBody, QueuedAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := n.pub.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	if err := n.pub.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flush message: %w", err)
	}
	return nil
}

// LogNotifier only logs the envelope. Used when NATS_URL is unset.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	l.logger.Infow("email not dispatched (no transport configured)",
		"to", to,
		"subject", subject,
		"size", len(htmlBody),
	)
	return nil
}
