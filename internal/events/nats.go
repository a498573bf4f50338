package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriberBuffer is the per-subscription channel depth. Messages that
// arrive while it is full are dropped.
const subscriberBuffer = 64

// NATS publishes and subscribes to search events over one connection.
type NATS struct {
	conn *nats.Conn
}

// Connect dials url. The connection reconnects indefinitely, so a restarted
// broker does not strand the caller. opts are applied after the defaults.
func Connect(url string, opts ...nats.Option) (*NATS, error) {
	defaults := []nats.Option{
		nats.Name("searchd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATS{conn: nc}, nil
}

// Publish sends event as JSON on subject.
func (n *NATS) Publish(ctx context.Context, subject string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set("Content-Type", "application/json")
	msg.Data = data
	return n.conn.PublishMsg(msg)
}

// Subscribe delivers messages matching subject until ctx is done, then
// closes the channel. Wildcards such as LibrarySubject are accepted.
func (n *NATS) Subscribe(ctx context.Context, subject string) (<-chan Message, error) {
	out := make(chan Message, subscriberBuffer)
	var (
		mu   sync.Mutex
		done bool
	)
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case out <- Message{Subject: msg.Subject, Data: msg.Data}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// The subscription must reach the server before we return, or events
	// published on other connections right after may be missed.
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		mu.Lock()
		done = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

// Connected reports whether the connection is currently up.
func (n *NATS) Connected() bool {
	return n.conn.IsConnected()
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
