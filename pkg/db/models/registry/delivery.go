package registry

import (
	"time"

	"github.com/paul-bdio/zorro/pkg/profile"
)

// DeliveryStatus is the send state of one (notification, channel, destination).
type DeliveryStatus string

const (
	DeliveryPending          DeliveryStatus = "pending"
	DeliverySending          DeliveryStatus = "sending"
	DeliverySent             DeliveryStatus = "sent"
	DeliveryTransientFailure DeliveryStatus = "transient_failure"
	DeliveryPermanentFailure DeliveryStatus = "permanent_failure"
)

// Terminal reports whether no further send will be attempted.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySent || s == DeliveryPermanentFailure
}

// Channel names a dispatcher transport.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Delivery is one send of a claimed notification. The destination is frozen when the
// notification is claimed so a retry never goes to a different recipient.
type Delivery struct {
	ID             string            `json:"id"`
	NotificationID string            `json:"notificationId"`
	ProfileID      uint64            `json:"profileId"`
	EventType      profile.EventType `json:"eventType"`
	Channel        Channel           `json:"channel"`
	Destination    string            `json:"destination"`
	Body           string            `json:"body"`
	Status         DeliveryStatus    `json:"status"`
	Attempts       int               `json:"attempts"`
	LeaseUntil     *time.Time        `json:"leaseUntil,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
	SentAt         *time.Time        `json:"sentAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// DeliveryOutcome is the result of one send attempt.
type DeliveryOutcome struct {
	DeliveryID string
	Status     DeliveryStatus
	LastError  string
	At         time.Time
}

// RedeliveryQuery selects deliveries that were claimed but never confirmed sent.
type RedeliveryQuery struct {
	// ProfileID restricts the claim to one profile; zero matches every profile.
	ProfileID   uint64
	Now         time.Time
	LeaseUntil  time.Time
	MaxAttempts int
	Limit       int
}
