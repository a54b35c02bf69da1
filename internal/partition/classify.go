package partition

import (
	"errors"
	"net/http"

	"github.com/arloliu/changefeed/types"
)

type feedErrorKind int

const (
	feedErrorOther feedErrorKind = iota
	feedErrorNotFound
	feedErrorSplit
	feedErrorThrottled
	feedErrorServer
	feedErrorPageTooLarge
)

func (k feedErrorKind) String() string {
	switch k {
	case feedErrorNotFound:
		return "not_found"
	case feedErrorSplit:
		return "split"
	case feedErrorThrottled:
		return "throttled"
	case feedErrorServer:
		return "server"
	case feedErrorPageTooLarge:
		return "page_too_large"
	default:
		return "other"
	}
}

// classifyFeedError maps a ChangeFeedSource failure to the processor's reaction.
func classifyFeedError(err error) (feedErrorKind, *types.StoreError) {
	if errors.Is(err, types.ErrPageTooLarge) {
		return feedErrorPageTooLarge, nil
	}

	var se *types.StoreError
	if !errors.As(err, &se) {
		return feedErrorOther, nil
	}

	switch {
	case se.StatusCode == http.StatusRequestEntityTooLarge:
		return feedErrorPageTooLarge, se
	case se.StatusCode == http.StatusNotFound && se.SubStatusCode != types.SubStatusReadSessionNotAvailable:
		return feedErrorNotFound, se
	case se.StatusCode == http.StatusNotFound:
		// Read session not available yet; the partition itself still exists.
		return feedErrorServer, se
	case se.StatusCode == http.StatusGone && isSplitSubStatus(se.SubStatusCode):
		return feedErrorSplit, se
	case se.StatusCode == http.StatusTooManyRequests:
		return feedErrorThrottled, se
	case se.StatusCode >= http.StatusInternalServerError:
		return feedErrorServer, se
	default:
		return feedErrorOther, se
	}
}

func isSplitSubStatus(subStatus int) bool {
	switch subStatus {
	case types.SubStatusPartitionKeyRangeGone, types.SubStatusCompletingSplit, types.SubStatusCompletingPartitionMigration:
		return true
	default:
		return false
	}
}
