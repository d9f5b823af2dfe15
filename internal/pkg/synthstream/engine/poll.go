package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrPollTimeout is returned by Poll when the condition never held.
var ErrPollTimeout = errors.New("engine: poll timed out")

var errNotYet = errors.New("condition not met")

// Poll calls cond every interval until it reports true, returns an error,
// or limit elapses.
func Poll(ctx context.Context, interval, limit time.Duration, cond func() (bool, error)) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := cond()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errNotYet
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(limit),
	)
	if errors.Is(err, errNotYet) {
		return ErrPollTimeout
	}
	return err
}
