package interfaces

import "market-stream/src/models"

// -----------------------------------------------------------------------------
// IFramePublisher fans frames for a key out to subscribed clients.
// Publish must never block the caller.
// -----------------------------------------------------------------------------

type IFramePublisher interface {
	Publish(key models.MSubscriptionKey, frame models.MFrame)
}
