// ABOUTME: SQL data source introspecting a SQLite database into collections
// ABOUTME: Each table with a primary key becomes a collection answering aggregations in SQL

package sqlds

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// DataSource exposes the tables of a SQLite database.
type DataSource struct {
	db          *sql.DB
	owned       bool
	collections []*Collection
}

var _ toolkit.DataSource = (*DataSource)(nil)

// Open opens the SQLite database at dsn and introspects it.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*DataSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ds, err := New(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	ds.owned = true
	return ds, nil
}

// New introspects an already opened database. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, logger *slog.Logger) (*DataSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sqlds")

	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}

	ds := &DataSource{db: db}
	for _, table := range tables {
		schema, err := introspectTable(ctx, db, table)
		if err != nil {
			return nil, err
		}
		if len(schema.PrimaryKeys()) == 0 {
			logger.Warn("skipping table without primary key", "table", table)
			continue
		}
		ds.collections = append(ds.collections, &Collection{
			db:     db,
			table:  table,
			schema: schema,
			logger: logger.With("collection", table),
		})
	}

	logger.Info("SQL data source introspected", "collections", len(ds.collections))
	return ds, nil
}

// Close closes the database when the data source opened it.
func (d *DataSource) Close() error {
	if !d.owned {
		return nil
	}
	return d.db.Close()
}

func (d *DataSource) Collections() []toolkit.Collection {
	out := make([]toolkit.Collection, len(d.collections))
	for i, c := range d.collections {
		out[i] = c
	}
	return out
}

func (d *DataSource) Collection(name string) (toolkit.Collection, error) {
	for _, c := range d.collections {
		if c.table == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", toolkit.ErrCollectionNotFound, name)
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func introspectTable(ctx context.Context, db *sql.DB, table string) (toolkit.CollectionSchema, error) {
	schema := toolkit.CollectionSchema{
		Fields:     map[string]toolkit.ColumnSchema{},
		Searchable: true,
	}

	rows, err := db.QueryContext(ctx, `SELECT name, type, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return schema, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, declared string
			pk             int
		)
		if err := rows.Scan(&name, &declared, &pk); err != nil {
			return schema, fmt.Errorf("scanning column of %s: %w", table, err)
		}
		schema.Fields[name] = toolkit.ColumnSchema{
			ColumnType:   columnType(declared),
			IsPrimaryKey: pk > 0,
			IsSortable:   true,
		}
	}
	return schema, rows.Err()
}

// columnType maps a declared SQLite type to a column type, following the
// affinity rules: the first matching keyword wins.
func columnType(declared string) toolkit.ColumnType {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "BOOL"):
		return toolkit.ColumnTypeBoolean
	case strings.Contains(t, "UUID"):
		return toolkit.ColumnTypeUUID
	case strings.Contains(t, "JSON"):
		return toolkit.ColumnTypeJSON
	case strings.Contains(t, "DATETIME"), strings.Contains(t, "TIMESTAMP"):
		return toolkit.ColumnTypeDate
	case strings.Contains(t, "DATE"):
		return toolkit.ColumnTypeDateonly
	case strings.Contains(t, "INT"), strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"),
		strings.Contains(t, "DOUB"), strings.Contains(t, "NUM"), strings.Contains(t, "DEC"):
		return toolkit.ColumnTypeNumber
	default:
		return toolkit.ColumnTypeString
	}
}
