package publishers

import "context"

// queuePublisher adapts a broker sender to the Publisher interface.
type queuePublisher struct {
	id     string
	typ    string
	sender sender
}

func (q *queuePublisher) ID() string   { return q.id }
func (q *queuePublisher) Type() string { return q.typ }

func (q *queuePublisher) Publish(ctx context.Context, evt Event) error {
	return q.sender.Send(ctx, evt)
}

func (q *queuePublisher) Close() error {
	if c, ok := q.sender.(closer); ok {
		return c.Close()
	}
	return nil
}
