package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/sheet"
)

// MySQL implements Source for MySQL
type MySQL struct {
	config Config
	db     *sql.DB
}

// NewMySQL creates a new MySQL source
func NewMySQL(config Config) *MySQL {
	return &MySQL{config: config}
}

// Connect establishes a connection to MySQL
func (m *MySQL) Connect(ctx context.Context) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		m.config.User,
		m.config.Password,
		m.config.Host,
		m.config.Port,
		m.config.Database,
	)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m.db = db
	return nil
}

// Close closes the MySQL connection
func (m *MySQL) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// GetAllTables retrieves all table names in the database
func (m *MySQL) GetAllTables(ctx context.Context) ([]string, error) {
	query := "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME"
	rows, err := m.db.QueryContext(ctx, query, m.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}

	return tables, rows.Err()
}

// GetTableColumns retrieves the ordered columns of a table
func (m *MySQL) GetTableColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := m.db.QueryContext(ctx, query, m.config.Database, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		if err := rows.Scan(&col.Name, &col.Type, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Type = strings.ToUpper(col.Type)
		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// GetTableData retrieves the rows of a table as text
func (m *MySQL) GetTableData(ctx context.Context, tableName string, limit int) (*sheet.Sheet, error) {
	if err := checkTable(ctx, m, tableName); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM `%s`", strings.ReplaceAll(tableName, "`", "``"))
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get table data: %w", err)
	}
	defer rows.Close()

	data, err := readSheet(rows)
	if err != nil {
		return nil, err
	}
	data.Source = fmt.Sprintf("mysql:%s.%s", m.config.Database, tableName)
	return data, nil
}
