package lease

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arloliu/changefeed/types"
)

// ID returns the document id of the lease for leaseToken.
func ID(prefix, leaseToken string) string {
	return IDPrefix(prefix) + leaseToken
}

// IDPrefix returns the id prefix shared by all leases under prefix.
func IDPrefix(prefix string) string {
	return prefix + leaseInfix
}

const leaseInfix = ".lease."

func infoID(prefix string) string {
	return prefix + ".info"
}

func lockID(prefix string) string {
	return prefix + ".lock"
}

func encode(l *types.Lease) (types.Document, error) {
	body, err := json.Marshal(l)
	if err != nil {
		return types.Document{}, fmt.Errorf("failed to encode lease %s: %w", l.LeaseToken, err)
	}

	return types.Document{ID: l.ID, ETag: l.ConcurrencyToken, Body: body}, nil
}

func decode(doc types.Document) (*types.Lease, error) {
	var l types.Lease
	if err := json.Unmarshal(doc.Body, &l); err != nil {
		return nil, fmt.Errorf("failed to decode lease %s: %w", doc.ID, err)
	}

	l.ID = doc.ID
	l.ConcurrencyToken = doc.ETag
	if idx := strings.LastIndex(doc.ID, leaseInfix); l.LeaseToken == "" && idx >= 0 {
		l.LeaseToken = doc.ID[idx+len(leaseInfix):]
	}

	return &l, nil
}
