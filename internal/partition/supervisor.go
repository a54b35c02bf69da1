package partition

import (
	"context"
	"errors"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// Runner is a long-running partition task such as a Renewer or a Processor.
type Runner interface {
	Run(ctx context.Context) error
}

// Supervisor runs the renewer and processor of one owned lease and closes the
// observer with the reason derived from whichever of them stopped first.
type Supervisor struct {
	leaseToken string
	observer   types.ChangeFeedObserver
	renewer    Runner
	processor  Runner
	logger     types.Logger
	metrics    types.MetricsCollector
}

// NewSupervisor creates a supervisor.
func NewSupervisor(
	leaseToken string,
	observer types.ChangeFeedObserver,
	renewer Runner,
	processor Runner,
	logger types.Logger,
	collector types.MetricsCollector,
) *Supervisor {
	return &Supervisor{
		leaseToken: leaseToken,
		observer:   observer,
		renewer:    renewer,
		processor:  processor,
		logger:     logging.OrNop(logger),
		metrics:    metrics.OrNop(collector),
	}
}

// Run opens the observer, runs renewer and processor until one stops, and
// closes the observer exactly once.
//
// Returns:
//   - error: nil on shutdown, otherwise the first terminal error (for example
//     *types.PartitionSplitError carrying the last continuation)
func (s *Supervisor) Run(ctx context.Context) error {
	oc := &observerContext{leaseToken: s.leaseToken}

	if err := s.observer.Open(ctx, oc); err != nil {
		s.close(ctx, oc, err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewerDone := make(chan error, 1)
	processorDone := make(chan error, 1)
	go func() { renewerDone <- s.renewer.Run(runCtx) }()
	go func() { processorDone <- s.processor.Run(runCtx) }()

	var err error
	pending := 2
	select {
	case err = <-renewerDone:
		renewerDone = nil
	case err = <-processorDone:
		processorDone = nil
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()

	if renewerDone == nil || processorDone == nil {
		pending--
	}
	for ; pending > 0; pending-- {
		select {
		case <-renewerDone:
			renewerDone = nil
		case <-processorDone:
			processorDone = nil
		}
	}

	reason := s.close(ctx, oc, err)
	if reason == types.CloseReasonShutdown {
		return nil
	}

	return err
}

func (s *Supervisor) close(ctx context.Context, oc types.ObserverContext, err error) types.CloseReason {
	reason := closeReason(ctx, err)
	s.metrics.RecordPartitionClosed(reason.String())
	s.logger.Info("closing partition", "reason", reason.String(), "error", err)

	if closeErr := s.observer.Close(context.WithoutCancel(ctx), oc, reason); closeErr != nil {
		s.logger.Warn("observer close failed", "error", closeErr)
	}

	return reason
}

func closeReason(ctx context.Context, err error) types.CloseReason {
	var observerErr *types.ObserverError

	switch {
	case errors.Is(err, types.ErrLeaseLost):
		return types.CloseReasonLeaseLost
	case errors.Is(err, types.ErrPartitionSplit):
		return types.CloseReasonLeaseGone
	case errors.Is(err, types.ErrPartitionNotFound):
		return types.CloseReasonResourceGone
	case errors.As(err, &observerErr):
		return types.CloseReasonObserverError
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return types.CloseReasonShutdown
	default:
		return types.CloseReasonUnknown
	}
}
