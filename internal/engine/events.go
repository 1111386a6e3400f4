package engine

import "github.com/fjod/go_cart/cart-engine/internal/domain"

type EventType string

const (
	EventHydrated        EventType = "hydrated"
	EventHydrationFailed EventType = "hydration_failed"
	// EventMergeAdjusted fires when a merge capped or dropped anonymous lines
	EventMergeAdjusted EventType = "merge_adjusted"
	EventItemAdded     EventType = "item_added"
	EventCartOpened    EventType = "cart_opened"
	EventPersistFailed EventType = "persist_failed"
)

// Event is a notification for UI side effects
type Event struct {
	Type      EventType
	Identity  domain.Identity
	ProductID int64
	Err       error
}

// Listener receives engine events. It is called outside the engine lock and
// must not block.
type Listener func(Event)
