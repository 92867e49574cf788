// Package app exposes the operations a session can run against the active
// table. Every operation takes the caller's *auth.Session explicitly and
// reports user-facing failures as *apperr.Error.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/auth"
	"github.com/koba/sheetql/internal/candidate"
	"github.com/koba/sheetql/internal/catalog"
	"github.com/koba/sheetql/internal/executor"
	"github.com/koba/sheetql/internal/guard"
	"github.com/koba/sheetql/internal/nlsql"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/sheet"
	"github.com/koba/sheetql/internal/source"
	"github.com/koba/sheetql/internal/statement"
	"github.com/koba/sheetql/internal/store"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Table              string
	Executor           *executor.Executor
	Generator          nlsql.Generator
	RewritePlaceholder bool
	Logger             *zap.Logger
}

// Service runs the core operations against one store.
type Service struct {
	db        *sql.DB
	table     string
	exec      *executor.Executor
	gen       nlsql.Generator
	validator *candidate.Validator
	loader    *sheet.Loader
	logger    *zap.Logger
}

// New creates a Service over db.
func New(db *sql.DB, opts Options) *Service {
	if opts.Table == "" {
		opts.Table = "uploaded_data"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Executor == nil {
		opts.Executor = executor.New(executor.WithLogger(opts.Logger))
	}
	return &Service{
		db:        db,
		table:     opts.Table,
		exec:      opts.Executor,
		gen:       opts.Generator,
		validator: candidate.NewValidator(opts.Table, opts.RewritePlaceholder),
		loader:    sheet.NewLoader(db, opts.Executor, opts.Logger),
		logger:    opts.Logger,
	}
}

// Table returns the name of the active table.
func (s *Service) Table() string {
	return s.table
}

func requireSession(sess *auth.Session) error {
	if sess == nil {
		return apperr.New(apperr.KindPermissionDenied, "not logged in")
	}
	return nil
}

// IntrospectSchema returns the live schema of the active table.
func (s *Service) IntrospectSchema(ctx context.Context, sess *auth.Session) (*schema.TableSchema, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	return catalog.Describe(ctx, s.db, s.table)
}

// LoadInfo returns the metadata recorded by the last upload or import.
func (s *Service) LoadInfo(ctx context.Context, sess *auth.Session) (map[string]string, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	return store.ReadMetadata(ctx, s.db)
}

// Rows returns every row of the active table.
func (s *Service) Rows(ctx context.Context, sess *auth.Session) (*executor.Result, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	columns, err := catalog.Columns(ctx, s.db, s.table)
	if err != nil {
		return nil, err
	}
	st, err := statement.BuildSelectAll(s.table, columns)
	if err != nil {
		return nil, err
	}
	res := s.exec.Execute(ctx, s.db, st)
	if !res.OK() {
		return res, res.Err
	}
	return res, nil
}

// InsertRecord appends one row. Columns missing from values are stored as
// empty text.
func (s *Service) InsertRecord(ctx context.Context, sess *auth.Session, values map[string]string) (int64, error) {
	if err := sess.RequireAdmin(); err != nil {
		return 0, err
	}
	columns, err := catalog.Columns(ctx, s.db, s.table)
	if err != nil {
		return 0, err
	}
	st, err := statement.BuildInsert(s.table, columns, values)
	if err != nil {
		return 0, err
	}

	res := s.exec.Execute(ctx, s.db, st)
	if !res.OK() {
		return 0, res.Err
	}
	s.logger.Info("record inserted",
		zap.String("user", sess.Username),
		zap.String("table", s.table),
	)
	return res.RowsAffected, nil
}

// UpdateRecord sets the non-empty values of set on every row matching
// filters. It fails with NoMatchingRecord, without writing, when nothing
// matches.
func (s *Service) UpdateRecord(ctx context.Context, sess *auth.Session, set schema.UpdateSet, filters schema.FilterSet) (int64, error) {
	if err := sess.RequireAdmin(); err != nil {
		return 0, err
	}
	set = set.Compact()
	if len(set) == 0 {
		return 0, apperr.New(apperr.KindEmptyUpdateSet, "no values to update")
	}
	if len(filters) == 0 {
		return 0, apperr.New(apperr.KindEmptyFilterSet, "at least one filter is required")
	}

	columns, err := catalog.Columns(ctx, s.db, s.table)
	if err != nil {
		return 0, err
	}
	st, err := statement.BuildUpdate(s.table, columns, set, filters)
	if err != nil {
		return 0, err
	}

	n, err := s.guardedMutate(ctx, columns, filters, st)
	if err != nil {
		return 0, err
	}
	s.logger.Info("records updated",
		zap.String("user", sess.Username),
		zap.Strings("set", set.Columns()),
		zap.Strings("where", filters.Columns()),
		zap.Int64("rows", n),
	)
	return n, nil
}

// DeleteRecord removes every row matching filters. It fails with
// NoMatchingRecord, without writing, when nothing matches.
func (s *Service) DeleteRecord(ctx context.Context, sess *auth.Session, filters schema.FilterSet) (int64, error) {
	if err := sess.RequireAdmin(); err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, apperr.New(apperr.KindEmptyFilterSet, "at least one filter is required")
	}

	columns, err := catalog.Columns(ctx, s.db, s.table)
	if err != nil {
		return 0, err
	}
	st, err := statement.BuildDelete(s.table, columns, filters)
	if err != nil {
		return 0, err
	}

	n, err := s.guardedMutate(ctx, columns, filters, st)
	if err != nil {
		return 0, err
	}
	s.logger.Info("records deleted",
		zap.String("user", sess.Username),
		zap.Strings("where", filters.Columns()),
		zap.Int64("rows", n),
	)
	return n, nil
}

// guardedMutate runs the existence check and st in one immediate transaction
// under the executor's retry policy. A write that affects no rows despite a
// passing check is rolled back as NoMatchingRecord.
func (s *Service) guardedMutate(ctx context.Context, columns []string, filters schema.FilterSet, st statement.Statement) (int64, error) {
	var affected int64
	err := s.exec.Retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := guard.Require(ctx, tx, s.table, columns, filters); err != nil {
			return err
		}

		r, err := tx.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return apperr.New(apperr.KindNoMatchingRecord, "no matching record found")
		}
		affected = n
		return tx.Commit()
	})
	if err != nil {
		return 0, executor.Classify(err)
	}
	return affected, nil
}

// Upload replaces the active table with the spreadsheet at path.
func (s *Service) Upload(ctx context.Context, sess *auth.Session, path string) (*schema.TableSchema, int64, error) {
	if err := sess.RequireAdmin(); err != nil {
		return nil, 0, err
	}
	sh, err := sheet.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return s.loader.Load(ctx, s.table, sh)
}

// Import replaces the active table with sourceTable read from src.
func (s *Service) Import(ctx context.Context, sess *auth.Session, src source.Source, sourceTable string, limit int) (*schema.TableSchema, int64, error) {
	if err := sess.RequireAdmin(); err != nil {
		return nil, 0, err
	}
	return source.Import(ctx, src, s.loader, sourceTable, s.table, limit)
}

// Export writes the whole active table to w.
func (s *Service) Export(ctx context.Context, sess *auth.Session, format sheet.Format, w io.Writer) error {
	res, err := s.Rows(ctx, sess)
	if err != nil {
		return err
	}
	return sheet.Write(w, format, s.table, res)
}
