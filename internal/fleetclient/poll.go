package fleetclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
)

// DefaultPollInterval is the fixed delay between two status reads.
const DefaultPollInterval = 2 * time.Second

// PollFunc observes each action state read while polling.
type PollFunc func(a *action.Action)

// PollAction reads the action every interval until it reaches a terminal
// status, and returns that final state. A non-positive interval uses
// DefaultPollInterval. fn, if not nil, sees every read including the last.
//
// There is no backoff and no built-in deadline: the caller bounds the wait
// through ctx. Read errors end the poll and return the last state read. A
// status that moves backwards returns ErrStatusRegression.
func (c *Client) PollAction(ctx context.Context, actionID string, interval time.Duration, fn PollFunc) (*action.Action, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *action.Action
	for {
		a, err := c.GetAction(ctx, actionID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, fmt.Errorf("polling action %s: %w", actionID, ctxErr)
			}
			return last, err
		}
		if last != nil && !last.Status.Precedes(a.Status) {
			return a, fmt.Errorf("%w: %s after %s", ErrStatusRegression, a.Status, last.Status)
		}
		last = a

		if fn != nil {
			fn(a)
		}
		if a.IsTerminal() {
			return a, nil
		}

		select {
		case <-ctx.Done():
			return a, fmt.Errorf("polling action %s: %w", actionID, ctx.Err())
		case <-ticker.C:
		}
	}
}
