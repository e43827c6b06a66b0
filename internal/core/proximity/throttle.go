package proximity

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/samirrijal/nearby/internal/pkg/metrics"
)

// DefaultNotifyInterval bounds unforced "view changed" signals.
const DefaultNotifyInterval = 150 * time.Millisecond

// NotifyThrottle rate-limits change notifications to the consumer.
//
// While the list is scrolling every notification is suppressed; nothing is
// replayed when scrolling stops, the next trigger carries the latest state.
// Otherwise forced notifications always pass and unforced ones pass at most
// once per interval. Forced notifications take the pending token when there
// is one so a burst right after a data change stays bounded.
type NotifyThrottle struct {
	clock     clockwork.Clock
	limiter   *rate.Limiter
	scrolling bool
}

// NewNotifyThrottle creates a throttle emitting at most one unforced
// notification per interval.
func NewNotifyThrottle(clock clockwork.Clock, interval time.Duration) *NotifyThrottle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultNotifyInterval
	}
	return &NotifyThrottle{
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// SetScrolling records whether the consumer list is in a scroll interaction.
func (t *NotifyThrottle) SetScrolling(scrolling bool) {
	t.scrolling = scrolling
}

// Notify reports whether a notification should be emitted now.
func (t *NotifyThrottle) Notify(force bool) bool {
	if t.scrolling {
		metrics.NotificationsSuppressed.WithLabelValues("scrolling").Inc()
		return false
	}
	allowed := t.limiter.AllowN(t.clock.Now(), 1)
	if !force && !allowed {
		metrics.NotificationsSuppressed.WithLabelValues("throttled").Inc()
		return false
	}
	metrics.NotificationsEmitted.Inc()
	return true
}
