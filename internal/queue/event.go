// Package queue defines the session lifecycle events exchanged over RabbitMQ
// together with their publisher and the audit-log consumer.
package queue

import (
	"fmt"
	"time"
)

// SessionQueueName is the durable queue every session event is routed to.
const SessionQueueName = "session.events"

// EventType names a transition in an identity's session.
type EventType string

const (
	EventSignup  EventType = "signup"
	EventLogin   EventType = "login"
	EventRefresh EventType = "refresh"
	EventLogout  EventType = "logout"
	EventRevoke  EventType = "revoke"
)

// SessionEvent is published whenever a session starts, is refreshed or ends.
// It carries no token material.
type SessionEvent struct {
	Type       EventType `json:"type"`
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// AuditLine renders the event as one line of the session audit log.
func (e SessionEvent) AuditLine() string {
	return fmt.Sprintf("[%s] session %s | identity_id=%s | email=%q | role=%s | request_id=%s\n",
		e.OccurredAt.UTC().Format(time.RFC3339), e.Type, e.IdentityID, e.Email, e.Role, e.RequestID)
}
