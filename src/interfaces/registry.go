package interfaces

import (
	"context"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// ISubscriptionRegistry is what the client-facing surfaces need from the
// subscription registry.
// -----------------------------------------------------------------------------

type ISubscriptionRegistry interface {

	// Subscribe adds a holder for key with the given indicators.
	Subscribe(clientID string, key models.MSubscriptionKey, specs []models.MIndicatorSpec) (models.MSubscribeAck, error)

	// -----------------------------------------------------------------------------

	Unsubscribe(clientID string, key models.MSubscriptionKey)

	// -----------------------------------------------------------------------------

	UnsubscribeAll(clientID string)

	// -----------------------------------------------------------------------------

	// Snapshot returns the state of key, starting and warming the feed when
	// nobody holds it.
	Snapshot(ctx context.Context, key models.MSubscriptionKey, specs []models.MIndicatorSpec) (models.MSnapshot, error)

	// -----------------------------------------------------------------------------

	// StreamSnapshot copies the state of a key that is already live.
	StreamSnapshot(key models.MSubscriptionKey, specs []models.MIndicatorSpec) (models.MSnapshot, bool)

	// -----------------------------------------------------------------------------

	Feeds() []models.MFeedStatus
}
