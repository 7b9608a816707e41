// -----------------------------------------------------------------------
// Subscription Registry - per-job delivery channels with broadcast support
// -----------------------------------------------------------------------

package registry

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
)

// subscriptionBuffer sizes each delivery channel. Slow consumers drop
// intermediate updates rather than block ingress fan-out; the job store keeps
// the latest state for them to poll.
const subscriptionBuffer = 16

// Registry tracks, per job identifier (or the reserved broadcast identifier),
// the set of currently-waiting delivery channels. Entries are owned by the
// registry for their whole lifetime; Unsubscribe removes the entry and closes
// its channel before returning, so no later Publish can race a teardown.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]map[*interfaces.Subscription]struct{}
	logger arbor.ILogger
	closed bool
}

// NewRegistry creates an empty subscription registry.
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		subs:   make(map[string]map[*interfaces.Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a delivery channel for jobID (or models.BroadcastJobID).
func (r *Registry) Subscribe(jobID string) *interfaces.Subscription {
	sub := &interfaces.Subscription{
		JobID: jobID,
		C:     make(chan models.JobUpdate, subscriptionBuffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		close(sub.C)
		return sub
	}

	if r.subs[jobID] == nil {
		r.subs[jobID] = make(map[*interfaces.Subscription]struct{})
	}
	r.subs[jobID][sub] = struct{}{}

	r.logger.Debug().
		Str("job_id", jobID).
		Int("subscriber_count", len(r.subs[jobID])).
		Msg("Subscription registered")

	return sub
}

// Unsubscribe removes the entry and closes its channel. Safe to call more
// than once. Synchronous: when it returns, the subscription receives nothing
// further.
func (r *Registry) Unsubscribe(sub *interfaces.Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[sub.JobID]
	if !ok {
		return
	}
	if _, registered := set[sub]; !registered {
		return
	}

	delete(set, sub)
	if len(set) == 0 {
		delete(r.subs, sub.JobID)
	}
	close(sub.C)

	r.logger.Debug().
		Str("job_id", sub.JobID).
		Int("remaining_subscribers", len(set)).
		Msg("Subscription removed")
}

// Publish fans an update out to every channel registered for its job
// identifier and to the broadcast channel. Sends are non-blocking; a full
// subscriber buffer drops the update for that subscriber only, never failing
// delivery to the others. Sends happen under the read lock so they cannot
// race an Unsubscribe closing the channel.
func (r *Registry) Publish(update models.JobUpdate) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	delivered := 0
	if !update.IsBroadcast() {
		delivered += r.deliverLocked(r.subs[update.JobID], update)
	}
	delivered += r.deliverLocked(r.subs[models.BroadcastJobID], update)

	r.logger.Debug().
		Str("job_id", update.JobID).
		Str("status", string(update.Status)).
		Int("delivered", delivered).
		Msg("Update fanned out")
}

func (r *Registry) deliverLocked(set map[*interfaces.Subscription]struct{}, update models.JobUpdate) int {
	delivered := 0
	for sub := range set {
		select {
		case sub.C <- update:
			delivered++
		default:
			r.logger.Warn().
				Str("job_id", update.JobID).
				Str("subscribed_to", sub.JobID).
				Msg("Subscriber buffer full, update dropped")
		}
	}
	return delivered
}

// Count returns the number of channels registered for jobID.
func (r *Registry) Count(jobID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[jobID])
}

// Close tears down every registered channel. Subsequent Subscribe calls
// return an already-closed subscription.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for jobID, set := range r.subs {
		for sub := range set {
			close(sub.C)
		}
		delete(r.subs, jobID)
	}

	r.logger.Debug().Msg("Subscription registry closed")
	return nil
}
