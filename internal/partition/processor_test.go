package partition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/source"
	"github.com/arloliu/changefeed/types"
)

// scriptedSource answers ReadChanges from a list of responses and records requests.
type scriptedSource struct {
	mu        sync.Mutex
	responses []func(req types.FeedRequest) (types.FeedPage, error)
	requests  []types.FeedRequest
}

func (s *scriptedSource) ReadChanges(ctx context.Context, req types.FeedRequest) (types.FeedPage, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		s.mu.Unlock()
		<-ctx.Done()

		return types.FeedPage{}, ctx.Err()
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	s.mu.Unlock()

	return next(req)
}

func (s *scriptedSource) ListRanges(context.Context) ([]types.PartitionRange, error) {
	return []types.PartitionRange{{ID: "0"}}, nil
}

func (s *scriptedSource) recorded() []types.FeedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]types.FeedRequest(nil), s.requests...)
}

func fail(err error) func(types.FeedRequest) (types.FeedPage, error) {
	return func(types.FeedRequest) (types.FeedPage, error) { return types.FeedPage{}, err }
}

func page(continuation string, values ...string) func(types.FeedRequest) (types.FeedPage, error) {
	return func(types.FeedRequest) (types.FeedPage, error) {
		return types.FeedPage{Items: items(values...), Continuation: continuation}, nil
	}
}

func newTestProcessor(t *testing.T, src types.ChangeFeedSource, observer types.ChangeFeedObserver, maxItems int) *Processor {
	t.Helper()

	_, m, l := newOwnedLease(t, "0")

	return NewProcessor(ProcessorConfig{
		Source:       src,
		Observer:     observer,
		Checkpointer: NewCheckpointer(m, l, nil, nil),
		Settings: types.ProcessorSettings{
			LeaseToken:         "0",
			MaxItemCount:       maxItems,
			FeedPollDelay:      time.Millisecond,
			StartFromBeginning: true,
		},
		MaxTransientBackoff: 5 * time.Millisecond,
	})
}

func TestProcessor_DeliversAndCheckpoints(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("0")
	_, err := src.Append("0", items("a", "b", "c", "d", "e")...)
	require.NoError(t, err)

	_, m, l := newOwnedLease(t, "0")
	observer := newRecordingObserver()
	p := NewProcessor(ProcessorConfig{
		Source:       src,
		Observer:     NewAutoCheckpointer(observer, types.CheckpointFrequency{}, nil),
		Checkpointer: NewCheckpointer(m, l, nil, nil),
		Settings: types.ProcessorSettings{
			LeaseToken:         "0",
			MaxItemCount:       2,
			FeedPollDelay:      time.Millisecond,
			StartFromBeginning: true,
		},
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return observer.itemCount() == 5 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		stored, err := m.Get(t.Context(), "0")
		return err == nil && stored.ContinuationToken == "5"
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Len(t, observer.batches, 3)
}

func TestProcessor_ResumesFromContinuation(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("0")
	_, err := src.Append("0", items("a", "b", "c")...)
	require.NoError(t, err)

	observer := newRecordingObserver()
	p := newTestProcessor(t, src, observer, 10)
	p.settings.StartContinuation = "2"

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool { return observer.itemCount() == 1 }, time.Second, time.Millisecond)
	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.JSONEq(t, `"c"`, string(observer.batches[0][0]))
}

func TestProcessor_SplitCarriesLastContinuation(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{responses: []func(types.FeedRequest) (types.FeedPage, error){
		page("3", "a", "b", "c"),
		fail(types.NewStoreError(410, types.SubStatusPartitionKeyRangeGone, errors.New("gone"))),
	}}

	err := newTestProcessor(t, src, newRecordingObserver(), 10).Run(t.Context())

	var splitErr *types.PartitionSplitError
	require.ErrorAs(t, err, &splitErr)
	require.ErrorIs(t, err, types.ErrPartitionSplit)
	require.Equal(t, "0", splitErr.LeaseToken)
	require.Equal(t, "3", splitErr.LastContinuation)
}

func TestProcessor_SplitOnMemoryFeed(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("0")
	_, err := src.Append("0", items("a")...)
	require.NoError(t, err)

	observer := newRecordingObserver()
	p := newTestProcessor(t, src, observer, 10)

	done := make(chan error, 1)
	go func() { done <- p.Run(t.Context()) }()

	require.Eventually(t, func() bool { return observer.itemCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, src.Split("0", "0a", "0b"))

	var splitErr *types.PartitionSplitError
	require.ErrorAs(t, <-done, &splitErr)
	require.Equal(t, "1", splitErr.LastContinuation)
}

func TestProcessor_PartitionNotFound(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("1")
	err := newTestProcessor(t, src, newRecordingObserver(), 10).Run(t.Context())
	require.ErrorIs(t, err, types.ErrPartitionNotFound)
}

func TestProcessor_HalvesPageSizeUntilReadSucceeds(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{responses: []func(types.FeedRequest) (types.FeedPage, error){
		fail(types.ErrPageTooLarge),
		fail(types.NewStoreError(413, 0, errors.New("too large"))),
		page("1", "a"),
		page("1"),
	}}
	observer := newRecordingObserver()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = newTestProcessor(t, src, observer, 8).Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.recorded()) >= 5 }, time.Second, time.Millisecond)

	reqs := src.recorded()
	require.Equal(t, 8, reqs[0].MaxItemCount)
	require.Equal(t, 4, reqs[1].MaxItemCount)
	require.Equal(t, 2, reqs[2].MaxItemCount)
	require.Equal(t, 8, reqs[3].MaxItemCount, "page size resets after a successful read")
	require.Equal(t, "1", reqs[3].Continuation)
}

func TestProcessor_PageTooLargeAtOneItemIsTerminal(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{responses: []func(types.FeedRequest) (types.FeedPage, error){
		fail(types.ErrPageTooLarge),
		fail(types.ErrPageTooLarge),
	}}

	err := newTestProcessor(t, src, newRecordingObserver(), 2).Run(t.Context())
	require.ErrorIs(t, err, types.ErrPageTooLarge)
	require.Len(t, src.recorded(), 2)
}

func TestProcessor_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{responses: []func(types.FeedRequest) (types.FeedPage, error){
		fail(&types.StoreError{StatusCode: 429, RetryAfter: time.Millisecond, Err: errors.New("throttled")}),
		fail(types.NewStoreError(503, 0, errors.New("unavailable"))),
		fail(types.NewStoreError(404, types.SubStatusReadSessionNotAvailable, errors.New("session"))),
		page("1", "a"),
	}}
	observer := newRecordingObserver()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = newTestProcessor(t, src, observer, 10).Run(ctx) }()

	require.Eventually(t, func() bool { return observer.itemCount() == 1 }, time.Second, time.Millisecond)
}

func TestProcessor_TerminalErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	src := &scriptedSource{responses: []func(types.FeedRequest) (types.FeedPage, error){fail(boom)}}
	err := newTestProcessor(t, src, newRecordingObserver(), 10).Run(t.Context())
	require.ErrorIs(t, err, boom)

	src = &scriptedSource{responses: []func(types.FeedRequest) (types.FeedPage, error){
		fail(types.NewStoreError(410, 0, boom)),
	}}
	err = newTestProcessor(t, src, newRecordingObserver(), 10).Run(t.Context())
	require.NotErrorIs(t, err, types.ErrPartitionSplit)
	require.ErrorIs(t, err, boom)
}

func TestProcessor_ObserverErrorStopsProcessing(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	inner := newRecordingObserver()
	inner.procErr = boom

	src := &scriptedSource{responses: []func(types.FeedRequest) (types.FeedPage, error){page("1", "a")}}
	err := newTestProcessor(t, src, NewObserverErrorWrapper(inner, nil), 10).Run(t.Context())

	var observerErr *types.ObserverError
	require.ErrorAs(t, err, &observerErr)
	require.ErrorIs(t, err, boom)
}
