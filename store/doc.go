// Package store groups the built-in types.LeaseContainer implementations.
//
// The sub-packages are:
//
//   - memory: Process-local container for tests and single-host deployments
//   - natskv: NATS JetStream KeyValue bucket
//   - sqlstore: SQL table through database/sql (PostgreSQL, MySQL, SQLite, SQL Server)
//
// Custom containers can be implemented by satisfying the types.LeaseContainer interface.
package store
