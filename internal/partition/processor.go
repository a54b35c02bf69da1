package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/changefeed/internal/backoff"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// DefaultMaxTransientBackoff caps the wait after consecutive transient feed errors.
const DefaultMaxTransientBackoff = 30 * time.Second

// Processor streams one partition's changes into an observer.
type Processor struct {
	source       types.ChangeFeedSource
	observer     types.ChangeFeedObserver
	checkpointer *Checkpointer
	settings     types.ProcessorSettings
	explicit     bool
	transient    *backoff.Jitter
	logger       types.Logger
	metrics      types.MetricsCollector
}

// ProcessorConfig holds the collaborators of a Processor.
type ProcessorConfig struct {
	Source       types.ChangeFeedSource
	Observer     types.ChangeFeedObserver // Already decorated
	Checkpointer *Checkpointer
	Settings     types.ProcessorSettings

	// ExplicitCheckpoint allows the observer to call ObserverContext.Checkpoint.
	ExplicitCheckpoint bool

	MaxTransientBackoff time.Duration // default: 30s

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// NewProcessor creates a partition processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Settings.MaxItemCount <= 0 {
		cfg.Settings.MaxItemCount = 100
	}
	if cfg.MaxTransientBackoff <= 0 {
		cfg.MaxTransientBackoff = DefaultMaxTransientBackoff
	}

	return &Processor{
		source:       cfg.Source,
		observer:     cfg.Observer,
		checkpointer: cfg.Checkpointer,
		settings:     cfg.Settings,
		explicit:     cfg.ExplicitCheckpoint,
		transient:    backoff.NewJitter(cfg.Settings.FeedPollDelay, cfg.MaxTransientBackoff, 2.0, 0),
		logger:       logging.OrNop(cfg.Logger),
		metrics:      metrics.OrNop(cfg.Metrics),
	}
}

// Run reads pages until ctx is canceled or a terminal error occurs.
//
// Pages with items are handed to the observer and the next page is requested
// immediately; an empty page waits FeedPollDelay. Transient store errors wait
// the server's RetryAfter or a jittered backoff starting at FeedPollDelay. A
// page that is too large halves the requested size until a read succeeds.
//
// Returns:
//   - error: *types.PartitionSplitError, types.ErrPartitionNotFound, *types.ObserverError,
//     checkpoint errors, other store errors, or ctx.Err()
func (p *Processor) Run(ctx context.Context) error {
	continuation := p.settings.StartContinuation
	maxItems := p.settings.MaxItemCount

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := p.source.ReadChanges(ctx, types.FeedRequest{
			RangeID:            p.settings.LeaseToken,
			Continuation:       continuation,
			MaxItemCount:       maxItems,
			StartFromBeginning: p.settings.StartFromBeginning,
			StartTime:          p.settings.StartTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			delay, err := p.handleReadError(err, continuation, &maxItems)
			if err != nil {
				return err
			}
			if err := backoff.Wait(ctx, delay); err != nil {
				return err
			}

			continue
		}

		p.transient.Reset()
		maxItems = p.settings.MaxItemCount
		if page.Continuation != "" {
			continuation = page.Continuation
		}

		if len(page.Items) > 0 {
			if err := p.dispatch(ctx, page); err != nil {
				return err
			}

			continue
		}

		if err := backoff.Wait(ctx, p.settings.FeedPollDelay); err != nil {
			return err
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, page types.FeedPage) error {
	oc := &observerContext{
		leaseToken:   p.settings.LeaseToken,
		page:         page,
		checkpointer: p.checkpointer,
		explicit:     p.explicit,
	}

	start := time.Now()
	err := p.observer.ProcessChanges(ctx, oc, page.Items)
	p.metrics.RecordBatchProcessed(len(page.Items), time.Since(start).Seconds())

	return err
}

func (p *Processor) handleReadError(err error, continuation string, maxItems *int) (time.Duration, error) {
	kind, storeErr := classifyFeedError(err)
	p.metrics.RecordFeedError(kind.String())

	switch kind {
	case feedErrorNotFound:
		p.logger.Warn("partition not found", "error", err)
		return 0, fmt.Errorf("%w: %s: %w", types.ErrPartitionNotFound, p.settings.LeaseToken, err)

	case feedErrorSplit:
		p.logger.Info("partition split detected", "continuation", continuation)
		return 0, &types.PartitionSplitError{
			LeaseToken:       p.settings.LeaseToken,
			LastContinuation: continuation,
			Err:              err,
		}

	case feedErrorThrottled:
		delay := storeErr.RetryAfter
		if delay <= 0 {
			delay = p.transient.Next()
		}
		p.logger.Debug("change feed read throttled", "delay", delay)

		return delay, nil

	case feedErrorServer:
		delay := p.transient.Next()
		p.logger.Warn("transient change feed error, retrying", "delay", delay, "error", err)

		return delay, nil

	case feedErrorPageTooLarge:
		if *maxItems <= 1 {
			p.logger.Error("page too large even at a single item", "error", err)
			return 0, err
		}
		*maxItems = max(*maxItems/2, 1)
		p.logger.Warn("page too large, reducing page size", "maxItemCount", *maxItems)

		return 0, nil

	default:
		p.logger.Error("unrecoverable change feed error", "error", err)
		return 0, err
	}
}
