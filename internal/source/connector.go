// Package source reads a table from a live MySQL or PostgreSQL database so it
// can be loaded as the active table, as an alternative to a file upload.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/sheet"
)

// Config holds source database connection configuration
type Config struct {
	Type     string // "mysql" or "postgres"
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// Source defines the read operations needed to import a table
type Source interface {
	Connect(ctx context.Context) error
	Close() error
	GetAllTables(ctx context.Context) ([]string, error)
	GetTableColumns(ctx context.Context, tableName string) ([]schema.Column, error)
	GetTableData(ctx context.Context, tableName string, limit int) (*sheet.Sheet, error)
}

// NewSource creates a source connection based on type
func NewSource(config Config) (Source, error) {
	switch config.Type {
	case "mysql", "MySQL":
		return NewMySQL(config), nil
	case "postgres", "Postgres", "PostgreSQL":
		return NewPostgres(config), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}

// LoadConfigFromEnv loads source configuration from environment variables.
// Values already set in base (from flags) take precedence.
func LoadConfigFromEnv(base Config) (Config, error) {
	cfg := base
	if cfg.Type == "" {
		cfg.Type = os.Getenv("DB_TYPE")
	}
	if cfg.Type == "" {
		return Config{}, fmt.Errorf("DB_TYPE environment variable is required")
	}

	if cfg.Host == "" {
		cfg.Host = os.Getenv("DB_HOST")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	if cfg.Database == "" {
		cfg.Database = os.Getenv("DB_NAME")
	}
	if cfg.Database == "" {
		return Config{}, fmt.Errorf("DB_NAME environment variable is required")
	}

	if cfg.User == "" {
		cfg.User = os.Getenv("DB_USER")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("DB_PASSWORD")
	}

	if cfg.Port == "" {
		cfg.Port = os.Getenv("DB_PORT")
	}
	if cfg.Port == "" {
		switch cfg.Type {
		case "mysql", "MySQL":
			cfg.Port = "3306"
		case "postgres", "Postgres", "PostgreSQL":
			cfg.Port = "5432"
		}
	}

	return cfg, nil
}

// checkTable returns an error unless tableName is one of the tables the
// source reports. Table names are spliced into the data query only after
// this check.
func checkTable(ctx context.Context, src Source, tableName string) error {
	tables, err := src.GetAllTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t == tableName {
			return nil
		}
	}
	return fmt.Errorf("table %s does not exist in source database", tableName)
}

// readSheet scans every row of rows into a Sheet, rendering values as text.
func readSheet(rows *sql.Rows) (*sheet.Sheet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	s := &sheet.Sheet{Headers: columns, Rows: [][]string{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record := make([]string, len(columns))
		for i, val := range values {
			record[i] = sheet.FormatValue(val)
		}
		s.Rows = append(s.Rows, record)
	}

	return s, rows.Err()
}

// Import reads tableName from src and loads it as table through loader.
func Import(ctx context.Context, src Source, loader *sheet.Loader, tableName, table string, limit int) (*schema.TableSchema, int64, error) {
	data, err := src.GetTableData(ctx, tableName, limit)
	if err != nil {
		return nil, 0, err
	}
	if data.Source == "" {
		data.Source = tableName
	}
	return loader.Load(ctx, table, data)
}
