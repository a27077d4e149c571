package domain

import "time"

// ActivityEvent is the decoded wire form of a queued activity message.
// MessageID and Zone keep whatever JSON type the producer sent.
type ActivityEvent struct {
	MessageID any
	Email     string
	Zone      any
	State     string
	Timestamp any
}

// ActivityRecord represents an activity row persisted by the ingestion pipeline
type ActivityRecord struct {
	MessageID any       `bson:"message_id" ch:"message_id"`
	Email     string    `bson:"email" ch:"email"`
	Zone      any       `bson:"zona" ch:"zona"`
	State     string    `bson:"estado" ch:"estado"`
	Timestamp time.Time `bson:"timestamp" ch:"timestamp"`
	ItemID    int64     `bson:"item_id" ch:"item_id"`
}

// IdentityActivity is the latest activity instant observed for one identity.
type IdentityActivity struct {
	Email        string
	LastActivity time.Time
}
