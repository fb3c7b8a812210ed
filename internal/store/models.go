package store

import "time"

// Comment is the persisted record. OrgNumber and TopicID are fixed at
// creation; CreatedDate never changes; LastChangedDate moves on every
// mutation. UserID is empty when the comment has no author reference.
type Comment struct {
	ID              string
	OrgNumber       string
	TopicID         string
	UserID          string
	Body            string
	CreatedDate     time.Time
	LastChangedDate time.Time
}

// User is a lazily materialized directory entry keyed by the identity
// provider subject. Never updated or deleted by this service.
type User struct {
	ID    string
	Name  string
	Email string
}
