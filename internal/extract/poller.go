// Package extract drives asynchronous structured-extraction jobs: awaiting
// their completion through a poll loop modeled as an explicit state machine,
// and decoding the non-deterministic payload shapes the upstream capability
// returns.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/clients"
)

// State is the poll-loop position for one extraction job.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60
)

// ErrPollTimeout is returned when the attempt ceiling is exceeded. Fatal to
// the enclosing discovery job.
var ErrPollTimeout = errors.New("extraction poll attempt ceiling exceeded")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollerOptions tunes the poll loop. Sleep is injectable so tests can run
// the state machine against a fake clock.
type PollerOptions struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

// Poller awaits asynchronous extraction jobs. This is the single blocking
// point in the pipeline; it blocks the calling task, never the process.
type Poller struct {
	client      clients.ExtractClient
	logger      zerolog.Logger
	interval    time.Duration
	maxAttempts int
	sleep       SleepFunc
}

func NewPoller(client clients.ExtractClient, logger zerolog.Logger, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	return &Poller{
		client:      client,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		sleep:       sleep,
	}
}

// Await polls the job until it completes, fails, times out, or ctx is
// cancelled. On completion it returns the job payload.
func (p *Poller) Await(ctx context.Context, jobID string) (json.RawMessage, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("poller is not initialized")
	}

	state := StateSubmitted
	attempts := 0

	for {
		switch state {
		case StateSubmitted:
			state = StatePolling

		case StatePolling:
			if attempts >= p.maxAttempts {
				state = StateTimedOut
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("poll job_id=%s cancelled: %w", jobID, err)
			}

			resp, err := p.client.Poll(ctx, jobID)
			if err != nil {
				return nil, fmt.Errorf("poll job_id=%s: %w", jobID, err)
			}
			attempts++

			switch resp.Status {
			case clients.PollStatusPending, clients.PollStatusProcessing:
				if err := p.sleep(ctx, p.interval); err != nil {
					return nil, fmt.Errorf("poll job_id=%s cancelled: %w", jobID, err)
				}
			case clients.PollStatusCompleted:
				state = StateCompleted
				return resp.Payload, nil
			case clients.PollStatusFailed:
				state = StateFailed
				detail := resp.Detail
				if detail == "" {
					detail = "no upstream detail"
				}
				return nil, fmt.Errorf("extraction job_id=%s failed: %s", jobID, detail)
			default:
				return nil, fmt.Errorf("extraction job_id=%s reported unknown status %q", jobID, resp.Status)
			}

		case StateTimedOut:
			p.logger.Warn().
				Str("job_id", jobID).
				Int("attempts", attempts).
				Dur("interval", p.interval).
				Msg("extraction poll timed out")
			return nil, fmt.Errorf("job_id=%s after %d attempts: %w", jobID, attempts, ErrPollTimeout)
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
