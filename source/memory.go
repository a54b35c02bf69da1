package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/changefeed/types"
)

// Memory is an in-process change feed.
//
// Every appended item gets a position from a single sequence shared by all
// ranges, and continuation tokens are that position in decimal. A range that
// is split keeps answering with 410/PartitionKeyRangeGone, and its unread
// items are moved to the children so that readers resuming from the parent's
// continuation lose nothing.
type Memory struct {
	mu     sync.RWMutex
	ranges map[string]*feedRange
	seq    uint64
	now    func() time.Time

	maxPage    int
	readFaults map[string][]error
	listFaults []error
}

type feedRange struct {
	id       string
	parents  []string
	children []string
	entries  *btree.BTreeG[entry]
}

type entry struct {
	seq  uint64
	at   time.Time
	key  string
	item json.RawMessage
}

var (
	_ types.ChangeFeedSource       = (*Memory)(nil)
	_ types.RemainingWorkEstimator = (*Memory)(nil)
)

// NewMemory creates a feed with the given root ranges.
//
// Example:
//
//	src := source.NewMemory("0", "1", "2", "3")
//	src.AppendByKey("order-17", json.RawMessage(`{"id":"order-17"}`))
//	proc, err := changefeed.NewProcessor(&cfg, src, leases, factory)
func NewMemory(rangeIDs ...string) *Memory {
	m := &Memory{
		ranges:     make(map[string]*feedRange, len(rangeIDs)),
		now:        time.Now,
		readFaults: make(map[string][]error),
	}
	for _, id := range rangeIDs {
		m.ranges[id] = newFeedRange(id, nil)
	}

	return m
}

func newFeedRange(id string, parents []string) *feedRange {
	return &feedRange{
		id:      id,
		parents: parents,
		entries: btree.NewBTreeG(func(a, b entry) bool { return a.seq < b.seq }),
	}
}

// AddRange adds a live range. It fails when the range already exists.
func (m *Memory) AddRange(id string, parents ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ranges[id]; ok {
		return fmt.Errorf("range %s already exists", id)
	}
	m.ranges[id] = newFeedRange(id, slices.Clone(parents))

	return nil
}

// Append adds items to a live range and returns the position of the last one.
func (m *Memory) Append(rangeID string, items ...json.RawMessage) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.ranges[rangeID]
	if !ok {
		return 0, fmt.Errorf("range %s not found", rangeID)
	}
	if r.split() {
		return 0, fmt.Errorf("range %s was split", rangeID)
	}

	for _, item := range items {
		m.seq++
		r.entries.Set(entry{seq: m.seq, at: m.now(), key: strconv.FormatUint(m.seq, 10), item: item})
	}

	return m.seq, nil
}

// AppendByKey routes item to a live range by hashing key.
//
// Returns:
//   - string: The range the item was appended to
//   - error: Error when the feed has no live range
func (m *Memory) AppendByKey(key string, item json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.liveRangeIDs()
	if len(live) == 0 {
		return "", errors.New("feed has no live ranges")
	}

	r := m.ranges[live[xxh3.HashString(key)%uint64(len(live))]]
	m.seq++
	r.entries.Set(entry{seq: m.seq, at: m.now(), key: key, item: item})

	return r.id, nil
}

// Split replaces a live range with children.
//
// The parent's items are redistributed to the children by key hash so that a
// reader continuing from any parent position finds the remaining items.
func (m *Memory) Split(parentID string, childIDs ...string) error {
	if len(childIDs) == 0 {
		return fmt.Errorf("split of %s needs at least one child", parentID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.ranges[parentID]
	if !ok {
		return fmt.Errorf("range %s not found", parentID)
	}
	if parent.split() {
		return fmt.Errorf("range %s was already split", parentID)
	}
	for _, id := range childIDs {
		if _, exists := m.ranges[id]; exists {
			return fmt.Errorf("range %s already exists", id)
		}
	}

	children := make([]*feedRange, len(childIDs))
	for i, id := range childIDs {
		children[i] = newFeedRange(id, append(slices.Clone(parent.parents), parentID))
		m.ranges[id] = children[i]
	}
	parent.entries.Scan(func(e entry) bool {
		children[xxh3.HashString(e.key)%uint64(len(children))].entries.Set(e)
		return true
	})

	parent.children = slices.Clone(childIDs)
	parent.entries.Clear()

	return nil
}

// Remove deletes a range without a split, so readers get 404.
func (m *Memory) Remove(rangeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ranges, rangeID)
}

// SetMaxPageSize makes reads asking for more than n items fail with
// types.ErrPageTooLarge. Zero disables the limit.
func (m *Memory) SetMaxPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maxPage = n
}

// InjectReadFault makes the next ReadChanges of rangeID fail with err.
func (m *Memory) InjectReadFault(rangeID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readFaults[rangeID] = append(m.readFaults[rangeID], err)
}

// InjectListFault makes the next ListRanges fail with err.
func (m *Memory) InjectListFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listFaults = append(m.listFaults, err)
}

// ListRanges returns the live ranges ordered by id.
func (m *Memory) ListRanges(ctx context.Context) ([]types.PartitionRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.listFaults) > 0 {
		err := m.listFaults[0]
		m.listFaults = m.listFaults[1:]

		return nil, err
	}

	ids := m.liveRangeIDs()
	ranges := make([]types.PartitionRange, 0, len(ids))
	for _, id := range ids {
		ranges = append(ranges, types.PartitionRange{ID: id, Parents: slices.Clone(m.ranges[id].parents)})
	}

	return ranges, nil
}

// ReadChanges returns the next page of a range.
func (m *Memory) ReadChanges(ctx context.Context, req types.FeedRequest) (types.FeedPage, error) {
	if err := ctx.Err(); err != nil {
		return types.FeedPage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if faults := m.readFaults[req.RangeID]; len(faults) > 0 {
		m.readFaults[req.RangeID] = faults[1:]
		return types.FeedPage{}, faults[0]
	}

	r, ok := m.ranges[req.RangeID]
	if !ok {
		return types.FeedPage{}, types.NewStoreError(http.StatusNotFound, 0, fmt.Errorf("range %s not found", req.RangeID))
	}
	if r.split() {
		return types.FeedPage{}, types.NewStoreError(http.StatusGone, types.SubStatusPartitionKeyRangeGone,
			fmt.Errorf("range %s was split into %v", r.id, r.children))
	}
	if m.maxPage > 0 && req.MaxItemCount > m.maxPage {
		return types.FeedPage{}, types.ErrPageTooLarge
	}

	after, err := m.startPosition(r, req)
	if err != nil {
		return types.FeedPage{}, err
	}

	limit := req.MaxItemCount
	if limit <= 0 {
		limit = 100
	}

	page := types.FeedPage{Continuation: strconv.FormatUint(after, 10)}
	r.entries.Ascend(entry{seq: after + 1}, func(e entry) bool {
		page.Items = append(page.Items, e.item)
		page.Continuation = strconv.FormatUint(e.seq, 10)

		return len(page.Items) < limit
	})

	return page, nil
}

// EstimateRemaining returns the number of items of a range after continuation.
func (m *Memory) EstimateRemaining(ctx context.Context, rangeID string, continuation string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.ranges[rangeID]
	if !ok {
		return 0, types.NewStoreError(http.StatusNotFound, 0, fmt.Errorf("range %s not found", rangeID))
	}

	var after uint64
	if continuation != "" {
		var err error
		if after, err = strconv.ParseUint(continuation, 10, 64); err != nil {
			return 0, types.NewStoreError(http.StatusBadRequest, 0, fmt.Errorf("invalid continuation %q", continuation))
		}
	}

	var remaining int64
	r.entries.Ascend(entry{seq: after + 1}, func(entry) bool {
		remaining++
		return true
	})

	return remaining, nil
}

func (m *Memory) startPosition(r *feedRange, req types.FeedRequest) (uint64, error) {
	switch {
	case req.Continuation != "":
		after, err := strconv.ParseUint(req.Continuation, 10, 64)
		if err != nil {
			return 0, types.NewStoreError(http.StatusBadRequest, 0, fmt.Errorf("invalid continuation %q", req.Continuation))
		}

		return after, nil
	case req.StartFromBeginning:
		return 0, nil
	case !req.StartTime.IsZero():
		after := m.seq
		r.entries.Scan(func(e entry) bool {
			if e.at.Before(req.StartTime) {
				return true
			}
			after = e.seq - 1

			return false
		})

		return after, nil
	default:
		return m.seq, nil
	}
}

func (m *Memory) liveRangeIDs() []string {
	ids := make([]string, 0, len(m.ranges))
	for id, r := range m.ranges {
		if !r.split() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return ids
}

func (r *feedRange) split() bool {
	return len(r.children) > 0
}
