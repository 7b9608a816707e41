package interfaces

import (
	"github.com/ternarybob/courier/internal/models"
)

// UpdatePublisher fans a normalized update out to the delivery channels
// currently waiting on its job identifier (or the broadcast channel).
// Implemented by the subscription registry; the optional Redis bridge wraps it
// for multi-replica deployments.
type UpdatePublisher interface {
	Publish(update models.JobUpdate)
}

// UpdateSubscriber registers and removes delivery channels for a job
// identifier. Unsubscribe is synchronous: after it returns, the subscriber's
// channel is closed and no further updates are delivered to it.
type UpdateSubscriber interface {
	Subscribe(jobID string) *Subscription
	Unsubscribe(sub *Subscription)
}

// Subscription is one waiting delivery channel. Updates arrives on C until
// Unsubscribe closes it. The registry owns the entry; holders keep only this
// back-reference.
type Subscription struct {
	// JobID is the subscribed identifier, or models.BroadcastJobID.
	JobID string

	// C delivers normalized updates. Buffered; slow consumers drop rather
	// than block ingress fan-out.
	C chan models.JobUpdate
}
