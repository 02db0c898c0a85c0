package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer binds a queue to the change exchange and hands every change to
// a Publisher, normally the local Hub.  It reconnects with exponential
// backoff (capped at 30s) until ctx is cancelled.
type Consumer struct {
	URL      string
	Exchange string
	Queue    string // empty: exclusive server-named queue
	Target   Publisher
	Log      logrus.FieldLogger
	// OnConnect runs once deliveries flow on a new connection, before the
	// first one is handled.
	OnConnect func(ctx context.Context)
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.Log.WithField("component", "feed-consumer")
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.WithError(err).Warnf("dial failed, retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, log logrus.FieldLogger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.WithError(err).Warn("set QoS failed")
	}
	if err := declareExchange(ch, c.Exchange); err != nil {
		return err
	}
	durable, exclusive := c.Queue != "", c.Queue == ""
	q, err := ch.QueueDeclare(c.Queue, durable, !durable, exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", c.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	if c.OnConnect != nil {
		c.OnConnect(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				log.WithError(err).Warn("handle message failed")
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ch Change
	if err := json.Unmarshal(body, &ch); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ch.Table == "" || ch.Type == "" {
		return errors.New("change without table or type")
	}
	return c.Target.Publish(ctx, ch)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
