// Package testing provides test utilities for the changefeed library.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for integration testing. It follows Go's convention
// of providing testing utilities in a dedicated package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - CreateLeaseBucket: JetStream KV bucket configured for leases
//   - RunLeaseContainerSuite: Behavioural checks every LeaseContainer must pass
//   - NewTestLogger: Logger writing to t.Logf
//
// Example usage:
//
//	import (
//	    "testing"
//	    cftest "github.com/arloliu/changefeed/testing"
//	)
//
//	func TestMyContainer(t *testing.T) {
//	    cftest.RunLeaseContainerSuite(t, func(t *testing.T) types.LeaseContainer {
//	        return newMyContainer(t)
//	    })
//	}
package testing
