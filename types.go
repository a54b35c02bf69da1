package changefeed

import "github.com/arloliu/changefeed/types"

// Re-export types from the types package.
//
// This file provides the public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which lets internal packages depend on `types` without
// depending on the root package.
type (
	Lease                  = types.Lease
	LeaseState             = types.LeaseState
	RemainingPartitionWork = types.RemainingPartitionWork
	CheckpointFrequency    = types.CheckpointFrequency
	FeedRequest            = types.FeedRequest
	FeedPage               = types.FeedPage
	PartitionRange         = types.PartitionRange
	Document               = types.Document
	StoreError             = types.StoreError
	PartitionSplitError    = types.PartitionSplitError
	ObserverError          = types.ObserverError
	CloseReason            = types.CloseReason
	HealthRecord           = types.HealthRecord
	HealthSeverity         = types.HealthSeverity
	State                  = types.State
)

// Re-export interfaces from the types package for convenience.
type (
	ChangeFeedSource       = types.ChangeFeedSource
	RemainingWorkEstimator = types.RemainingWorkEstimator
	LeaseContainer         = types.LeaseContainer
	ChangeFeedObserver     = types.ChangeFeedObserver
	ObserverContext        = types.ObserverContext
	ObserverFactory        = types.ObserverFactory
	ObserverFactoryFunc    = types.ObserverFactoryFunc
	LoadBalancingStrategy  = types.LoadBalancingStrategy
	HealthMonitor          = types.HealthMonitor
	HealthMonitorFunc      = types.HealthMonitorFunc
	MetricsCollector       = types.MetricsCollector
	Logger                 = types.Logger
	Hooks                  = types.Hooks
)

// Re-export CloseReason constants.
const (
	CloseReasonUnknown       = types.CloseReasonUnknown
	CloseReasonShutdown      = types.CloseReasonShutdown
	CloseReasonResourceGone  = types.CloseReasonResourceGone
	CloseReasonLeaseLost     = types.CloseReasonLeaseLost
	CloseReasonObserverError = types.CloseReasonObserverError
	CloseReasonLeaseGone     = types.CloseReasonLeaseGone
)

// Re-export State constants.
const (
	StateInit          = types.StateInit
	StateBootstrapping = types.StateBootstrapping
	StateResuming      = types.StateResuming
	StateRunning       = types.StateRunning
	StateStopping      = types.StateStopping
	StateStopped       = types.StateStopped
)

// Re-export HealthSeverity constants.
const (
	HealthSeverityInformational = types.HealthSeverityInformational
	HealthSeverityError         = types.HealthSeverityError
)
