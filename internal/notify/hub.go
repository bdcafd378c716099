package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event is what subscribers of a room receive.
type Event struct {
	Type string          `json:"type"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, room, eventType string, data any) error
}

func ProviderRoom(id uuid.UUID) string     { return "provider:" + id.String() }
func RequesterRoom(id uuid.UUID) string    { return "requester:" + id.String() }
func ConsultationRoom(id uuid.UUID) string { return "consultation:" + id.String() }

func channel(room string) string { return "rooms:" + room }

// RedisHub fans events out over Redis pub/sub. Delivery is at most once.
type RedisHub struct {
	client *redis.Client
}

func NewRedisHub(client *redis.Client) *RedisHub {
	return &RedisHub{client: client}
}

func (h *RedisHub) Publish(ctx context.Context, room, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	payload, err := json.Marshal(Event{Type: eventType, Room: room, Data: raw, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", room, err)
	}
	return nil
}

// Subscribe streams events for rooms until ctx is done. The returned channel
// is closed when the subscription ends.
func (h *RedisHub) Subscribe(ctx context.Context, rooms ...string) (<-chan Event, error) {
	channels := make([]string, len(rooms))
	for i, r := range rooms {
		channels[i] = channel(r)
	}

	ps := h.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("dropping malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
