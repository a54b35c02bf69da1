// Package source provides built-in change feed source implementations.
//
// The package includes:
//
//   - Memory: In-process, splittable change feed for tests, demos and local runs
//
// Custom sources can be implemented by satisfying the types.ChangeFeedSource interface.
package source
