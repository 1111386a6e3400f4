package domain

import (
	"time"
)

const (
	// AnonymousTTL is how long an untouched anonymous cart survives
	AnonymousTTL = 7 * 24 * time.Hour
	// AccountTTL is how long a single account cart line survives
	AccountTTL = 30 * 24 * time.Hour
)

// CartLine is one product in a cart. Snapshot is filled from the catalog at
// resolution time and is never persisted to the account store.
type CartLine struct {
	ProductID int64     `json:"product_id" bson:"product_id"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	AddedAt   time.Time `json:"added_at" bson:"added_at"`
	Snapshot  Snapshot  `json:"snapshot" bson:"-"`
}

// Expired reports whether an account line is past AccountTTL
func (l CartLine) Expired(now time.Time) bool {
	return now.Sub(l.AddedAt) > AccountTTL
}

// AnonymousCart is the cart held for a browsing context before sign-in
type AnonymousCart struct {
	Items       []CartLine `json:"items"`
	LastUpdated int64      `json:"last_updated"` // epoch millis
}

// Expired reports whether the whole anonymous cart is past AnonymousTTL
func (c AnonymousCart) Expired(now time.Time) bool {
	return now.Sub(time.UnixMilli(c.LastUpdated)) > AnonymousTTL
}

// CloneLines returns a copy of lines that shares no backing array
func CloneLines(lines []CartLine) []CartLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}

// IndexOf returns the position of productID in lines or -1
func IndexOf(lines []CartLine, productID int64) int {
	for i := range lines {
		if lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}
