package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/capactiyvirus/cafe-checkout/models"
)

// ScheduleRefresh opens a new session once edits have stopped for the quiet
// period. Each call restarts the wait, so a burst of tip edits costs one
// request. The outcome goes to the OnSessionChange callback; stale results
// are dropped silently.
func (c *Checkout) ScheduleRefresh(method models.PaymentMethod) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.quietPeriod, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.refreshWindow)
		defer cancel()

		session, err := c.CreateOrRefreshSession(ctx, method)
		if errors.Is(err, ErrStale) {
			return
		}

		c.mu.Lock()
		fn := c.onSession
		c.mu.Unlock()
		if fn != nil {
			fn(session, err)
		}
	})
}

// Stop cancels a pending refresh.
func (c *Checkout) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
