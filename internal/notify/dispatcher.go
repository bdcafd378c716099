package notify

import (
	"context"
	"log"
)

// Dispatcher sends mail and realtime events on a best-effort basis. Failures
// are logged and never returned to the domain operation that triggered them.
type Dispatcher struct {
	mailer    Mailer
	publisher Publisher
}

func NewDispatcher(mailer Mailer, publisher Publisher) *Dispatcher {
	return &Dispatcher{mailer: mailer, publisher: publisher}
}

func (d *Dispatcher) Mail(ctx context.Context, m Mail) {
	if d == nil || d.mailer == nil || m.To == "" {
		return
	}
	if err := d.mailer.Send(ctx, m); err != nil {
		log.Printf("mail delivery failed to=%s subject=%q: %v", m.To, m.Subject, err)
	}
}

func (d *Dispatcher) Emit(ctx context.Context, room, eventType string, data any) {
	if d == nil || d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, room, eventType, data); err != nil {
		log.Printf("realtime publish failed room=%s type=%s: %v", room, eventType, err)
	}
}
