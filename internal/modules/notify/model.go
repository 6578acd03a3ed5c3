// README: Notification event shape shared by every delivery channel.
package notify

import (
	"context"
	"time"

	"glideway/internal/types"
)

type EventType string

const (
	EventSeatRequested    EventType = "seat_requested"
	EventRequestAccepted  EventType = "request_accepted"
	EventRequestRejected  EventType = "request_rejected"
	EventRequestCancelled EventType = "request_cancelled"
	EventOfferCancelled   EventType = "offer_cancelled"
	EventOfferCompleted   EventType = "offer_completed"
	EventOfferUpdated     EventType = "offer_updated"
)

// Event is addressed to a single user.
type Event struct {
	Type   EventType         `json:"type"`
	UserID types.ID          `json:"userId"`
	RideID types.ID          `json:"rideId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	At     time.Time         `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// ChannelFor is the pub/sub channel carrying a user's events.
func ChannelFor(userID types.ID) string {
	return "poolride:events:" + string(userID)
}

// TopicFor is the FCM topic a user's devices subscribe to.
func TopicFor(userID types.ID) string {
	return "user_" + string(userID)
}
