// Package sqlstore stores lease documents in a SQL table through database/sql.
//
// One row per document holds the id, an etag regenerated on every write and
// the opaque body. Conditional writes are single UPDATE or DELETE statements
// guarded by the etag, so no transaction or row lock is held between a read
// and a write.
//
// PostgreSQL (lib/pq), MySQL (go-sql-driver/mysql), SQLite (mattn/go-sqlite3)
// and SQL Server (microsoft/go-mssqldb) are supported. The caller imports the
// driver and opens the *sql.DB.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

// DefaultTable is the table name used when Config.Table is empty.
const DefaultTable = "changefeed_leases"

// Config holds SQL container configuration.
type Config struct {
	// Required dependencies
	DB      *sql.DB
	Dialect Dialect

	// Optional configuration (with defaults)
	Table string // Table name (default: changefeed_leases)

	// Optional dependencies
	Logger types.Logger
}

// Container is a types.LeaseContainer backed by one SQL table.
type Container struct {
	db      *sql.DB
	dialect Dialect
	table   string
	logger  types.Logger

	readSQL    string
	insertSQL  string
	replaceSQL string
	updateSQL  string
	deleteSQL  string
	removeSQL  string
	querySQL   string
}

var _ types.LeaseContainer = (*Container)(nil)

// New creates a SQL lease container. Call Migrate once to create the table.
//
// Example:
//
//	db, err := sql.Open("postgres", dsn)
//	container, err := sqlstore.New(sqlstore.Config{DB: db, Dialect: sqlstore.Postgres})
//	err = container.Migrate(ctx)
func New(cfg Config) (*Container, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: the DB is required", types.ErrInvalidConfig)
	}
	if cfg.Dialect.placeholder == nil {
		return nil, fmt.Errorf("%w: the Dialect is required", types.ErrInvalidConfig)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if err := validateIdentifier(cfg.Table); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}

	d := cfg.Dialect
	t := cfg.Table

	return &Container{
		db:      cfg.DB,
		dialect: d,
		table:   t,
		logger:  logging.OrNop(cfg.Logger),

		readSQL:    d.bind(fmt.Sprintf("SELECT etag, body FROM %s WHERE id = ?", t)),
		insertSQL:  d.bind(fmt.Sprintf("INSERT INTO %s (id, etag, body) VALUES (?, ?, ?)", t)),
		replaceSQL: d.bind(fmt.Sprintf("UPDATE %s SET etag = ?, body = ? WHERE id = ? AND etag = ?", t)),
		updateSQL:  d.bind(fmt.Sprintf("UPDATE %s SET etag = ?, body = ? WHERE id = ?", t)),
		deleteSQL:  d.bind(fmt.Sprintf("DELETE FROM %s WHERE id = ? AND etag = ?", t)),
		removeSQL:  d.bind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", t)),
		querySQL:   d.bind(fmt.Sprintf("SELECT id, etag, body FROM %s WHERE id LIKE ? ESCAPE '!' ORDER BY id", t)),
	}, nil
}

// Migrate creates the lease table when it does not exist.
func (c *Container) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, c.dialect.createTable(c.table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", c.table, err)
	}

	c.logger.Debug("lease table ready", "table", c.table, "dialect", c.dialect.Name)

	return nil
}

// ReadItem returns the document with the given id.
func (c *Container) ReadItem(ctx context.Context, id string) (types.Document, error) {
	doc := types.Document{ID: id}

	err := c.db.QueryRowContext(ctx, c.readSQL, id).Scan(&doc.ETag, &doc.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Document{}, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}
	if err != nil {
		return types.Document{}, c.mapError("read", id, err)
	}

	return doc, nil
}

// CreateItem stores a new document.
func (c *Container) CreateItem(ctx context.Context, doc types.Document) (types.Document, error) {
	tag := uuid.NewString()
	body := bodyOf(doc)

	if _, err := c.db.ExecContext(ctx, c.insertSQL, doc.ID, tag, body); err != nil {
		if c.dialect.uniqueViolation(err) {
			return types.Document{}, fmt.Errorf("%w: %s", types.ErrDocumentConflict, doc.ID)
		}

		return types.Document{}, c.mapError("create", doc.ID, err)
	}

	return types.Document{ID: doc.ID, ETag: tag, Body: slices.Clone(body)}, nil
}

// ReplaceItem overwrites a document whose etag equals ifMatch.
func (c *Container) ReplaceItem(ctx context.Context, doc types.Document, ifMatch string) (types.Document, error) {
	tag := uuid.NewString()
	body := bodyOf(doc)

	var (
		res sql.Result
		err error
	)
	if ifMatch == "" {
		res, err = c.db.ExecContext(ctx, c.updateSQL, tag, body, doc.ID)
	} else {
		res, err = c.db.ExecContext(ctx, c.replaceSQL, tag, body, doc.ID, ifMatch)
	}
	if err != nil {
		return types.Document{}, c.mapError("replace", doc.ID, err)
	}

	if err := c.checkAffected(ctx, res, doc.ID); err != nil {
		return types.Document{}, err
	}

	return types.Document{ID: doc.ID, ETag: tag, Body: slices.Clone(body)}, nil
}

// DeleteItem removes a document, conditionally when ifMatch is set.
func (c *Container) DeleteItem(ctx context.Context, id string, ifMatch string) error {
	var (
		res sql.Result
		err error
	)
	if ifMatch == "" {
		res, err = c.db.ExecContext(ctx, c.removeSQL, id)
	} else {
		res, err = c.db.ExecContext(ctx, c.deleteSQL, id, ifMatch)
	}
	if err != nil {
		return c.mapError("delete", id, err)
	}

	return c.checkAffected(ctx, res, id)
}

// QueryItemsByIDPrefix returns all documents whose id starts with prefix, ordered by id.
func (c *Container) QueryItemsByIDPrefix(ctx context.Context, prefix string) ([]types.Document, error) {
	rows, err := c.db.QueryContext(ctx, c.querySQL, c.dialect.escapeLike(prefix))
	if err != nil {
		return nil, c.mapError("query", prefix, err)
	}
	defer rows.Close()

	docs := make([]types.Document, 0)
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.ETag, &doc.Body); err != nil {
			return nil, c.mapError("query", prefix, err)
		}
		// LIKE may ignore case under some collations
		if strings.HasPrefix(doc.ID, prefix) {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, c.mapError("query", prefix, err)
	}

	// database collations may not order by bytes
	slices.SortFunc(docs, func(a, b types.Document) int { return strings.Compare(a.ID, b.ID) })

	return docs, nil
}

// checkAffected turns a conditional write that matched no row into
// ErrDocumentNotFound or ErrPreconditionFailed.
func (c *Container) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return c.mapError("rows affected", id, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := c.ReadItem(ctx, id); err != nil {
		return err
	}

	return fmt.Errorf("%w: %s", types.ErrPreconditionFailed, id)
}

// mapError marks connection and lock-contention failures as transient.
func (c *Container) mapError(op string, id string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	wrapped := fmt.Errorf("sql %s of %s failed: %w", op, id, err)
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return types.NewStoreError(http.StatusServiceUnavailable, 0, wrapped)
	case c.dialect.busy(err):
		return types.NewStoreError(http.StatusTooManyRequests, 0, wrapped)
	default:
		return wrapped
	}
}

func bodyOf(doc types.Document) []byte {
	if doc.Body == nil {
		return []byte{}
	}

	return doc.Body
}
