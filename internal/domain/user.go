// Package domain contains the core types of the matchmaking and paired-chat service.
package domain

import (
	"time"
)

// User is an anonymous identity known to the service.
type User struct {
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
