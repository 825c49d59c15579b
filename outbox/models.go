package outbox

import "time"

// Event statuses. Pending events are retried with backoff; after the attempt
// limit they move to failed and stay queryable for inspection.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Event is one queued notification, written in the same transaction as the
// change it announces.
type Event struct {
	ID            string
	Topic         string
	Payload       []byte
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}
