package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/reserve/internal/models"
)

type SightingHandler func(ctx context.Context, ev models.SightingEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeArchive starts a durable work consumer; every sighting is handled
// once across all workers, with redelivery on failure.
func (c *Consumer) ConsumeArchive(ctx context.Context, consumerName string, handler SightingHandler, workerCount int) error {
	return c.consume(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: SightingCreated,
	}, handler, workerCount)
}

// ConsumeFeed starts a consumer that only sees sightings created from now
// on, for broadcasting over WebSocket.
func (c *Consumer) ConsumeFeed(ctx context.Context, consumerName string, handler SightingHandler) error {
	return c.consume(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: SightingCreated,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}, handler, 1)
}

func (c *Consumer) consume(ctx context.Context, cfg jetstream.ConsumerConfig, handler SightingHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}

	stream, err := c.js.Stream(ctx, SightingsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", SightingsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.Name, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch sightings error", "consumer", cfg.Name, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				handleMessage(ctx, msg, handler, workerID)
			}
		}(i)
	}

	slog.Info("sighting consumer started", "consumer", cfg.Name, "workers", workerCount)
	return nil
}

func handleMessage(ctx context.Context, msg jetstream.Msg, handler SightingHandler, workerID int) {
	ev, err := decodeSighting(msg.Data())
	if err != nil {
		slog.Error("drop malformed sighting event", "worker", workerID, "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("process sighting error", "worker", workerID, "sighting_id", ev.SightingID, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func decodeSighting(data []byte) (models.SightingEvent, error) {
	var ev models.SightingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode sighting event: %w", err)
	}
	if ev.ImageFilename == "" {
		return ev, fmt.Errorf("decode sighting event: missing image filename")
	}
	return ev, nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
