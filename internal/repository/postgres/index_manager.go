package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IndexManager creates and drops approximate-nearest-neighbor indexes on
// vector columns. Index DDL runs on the plain connection, outside any
// transaction, so CONCURRENTLY builds are allowed.
type IndexManager struct {
	db *sqlx.DB
}

// NewIndexManager creates an index manager.
func NewIndexManager(db *sqlx.DB) *IndexManager {
	return &IndexManager{db: db}
}

// IVFFlatOptions configures an IVF-flat index build.
type IVFFlatOptions struct {
	Table   string
	Column  string
	OpClass string // e.g. vector_cosine_ops
	Lists   int    // default 64

	// Dim, when positive, alters the column to vector(Dim) before indexing.
	Dim int

	// MaintenanceWorkMem, when set (e.g. "2GB"), is raised for the session
	// to speed up the build.
	MaintenanceWorkMem string
}

// IndexName derives the conventional index name for a (table, column) pair.
func IndexName(table, column string) string {
	return fmt.Sprintf("idx_%s_%s_ivfflat", table, column)
}

func checkIdent(kind, s string) error {
	if !identPattern.MatchString(s) {
		return fmt.Errorf("invalid %s identifier %q", kind, s)
	}
	return nil
}

// CreateIVFFlat builds the index with CREATE INDEX CONCURRENTLY so online
// queries are not blocked. Identifiers are validated; numeric settings are
// formatted, never taken from SQL-unsafe input.
func (m *IndexManager) CreateIVFFlat(ctx context.Context, opts IVFFlatOptions) error {
	if err := checkIdent("table", opts.Table); err != nil {
		return err
	}
	if err := checkIdent("column", opts.Column); err != nil {
		return err
	}
	opclass := opts.OpClass
	if opclass == "" {
		opclass = "vector_cosine_ops"
	}
	if err := checkIdent("opclass", opclass); err != nil {
		return err
	}
	lists := opts.Lists
	if lists <= 0 {
		lists = 64
	}

	if opts.MaintenanceWorkMem != "" {
		if _, err := m.db.ExecContext(ctx,
			fmt.Sprintf("SET maintenance_work_mem = '%s'", sanitizeMemSetting(opts.MaintenanceWorkMem))); err != nil {
			return fmt.Errorf("set maintenance_work_mem: %w", err)
		}
	}

	if opts.Dim > 0 {
		alter := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE vector(%d)", opts.Table, opts.Column, opts.Dim)
		if _, err := m.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("alter column dim: %w", err)
		}
	}

	ddl := fmt.Sprintf(
		"CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING ivfflat (%s %s) WITH (lists = %d)",
		IndexName(opts.Table, opts.Column), opts.Table, opts.Column, opclass, lists)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create ivfflat index: %w", err)
	}
	return nil
}

// DropIndex drops an index concurrently if it exists.
func (m *IndexManager) DropIndex(ctx context.Context, name string) error {
	if err := checkIdent("index", name); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s", name)); err != nil {
		return fmt.Errorf("drop index %s: %w", name, err)
	}
	return nil
}

var memSettingPattern = regexp.MustCompile(`^[0-9]+(kB|MB|GB|TB)?$`)

// sanitizeMemSetting keeps only well-formed memory settings like "2GB".
func sanitizeMemSetting(s string) string {
	if memSettingPattern.MatchString(s) {
		return s
	}
	return "64MB"
}
