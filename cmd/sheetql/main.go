package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koba/sheetql/internal/app"
	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/auth"
	"github.com/koba/sheetql/internal/config"
	"github.com/koba/sheetql/internal/executor"
	"github.com/koba/sheetql/internal/nlsql"
	"github.com/koba/sheetql/internal/store"
)

var (
	cfg    config.Config
	logger *zap.Logger

	// Persistent flags
	dbPath    string
	tableName string
	usersFile string
	username  string
	logLevel  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		if isWarning(err) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// isWarning reports failures caused by the caller's input rather than the
// store.
func isWarning(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindEmptyFilterSet, apperr.KindEmptyUpdateSet, apperr.KindNoMatchingRecord,
		apperr.KindWrongTableReference, apperr.KindForbiddenStatement, apperr.KindUnknownColumn:
		return true
	}
	return false
}

var rootCmd = &cobra.Command{
	Use:   "sheetql",
	Short: "Query an uploaded spreadsheet in plain language",
	Long: `sheetql loads a CSV or XLSX file (or a table from MySQL/PostgreSQL) into a
local SQLite table and answers questions about it by translating them into SQL.

Environment:
  SHEETQL_DB_PATH, SHEETQL_TABLE, SHEETQL_USERS_FILE, SHEETQL_LOG_LEVEL
                                 defaults for the matching flags
  SHEETQL_RETRY_ATTEMPTS         attempts for a locked store (default 3)
  SHEETQL_RETRY_DELAY            pause between attempts (default 1s)
  SHEETQL_LLM_URL, SHEETQL_LLM_MODEL, SHEETQL_LLM_API_KEY (or OPENAI_API_KEY)
                                 chat completions endpoint used by ask and shell
  SHEETQL_REWRITE_PLACEHOLDER    replace the identifier table_name with the
                                 active table in generated SQL (default false).
                                 Off, a generator that writes table_name gets
                                 "wrong table reference"; on, a real column
                                 named table_name is rewritten too.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadSettings,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite store path (env SHEETQL_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&tableName, "table", "", "Active table name (env SHEETQL_TABLE)")
	rootCmd.PersistentFlags().StringVar(&usersFile, "users-file", "", "Users file (env SHEETQL_USERS_FILE)")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", "", "Username to log in as (env SHEETQL_USER)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env SHEETQL_LOG_LEVEL)")
}

func loadSettings(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("table") {
		cfg.Table = tableName
	}
	if flags.Changed("users-file") {
		cfg.UsersFile = usersFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	logger, err = newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// login authenticates against the users file. The password comes from
// SHEETQL_PASSWORD or an interactive prompt.
func login() (*auth.Session, error) {
	users, err := auth.LoadStore(cfg.UsersFile)
	if err != nil {
		return nil, err
	}

	name := username
	if name == "" {
		name = os.Getenv("SHEETQL_USER")
	}
	if name == "" {
		name, err = readLine("Username: ")
		if err != nil {
			return nil, fmt.Errorf("failed to read username: %w", err)
		}
	}

	password := os.Getenv("SHEETQL_PASSWORD")
	if password == "" {
		password, err = readPassword("Password: ")
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
	}

	sess, err := users.Authenticate(strings.TrimSpace(name), password)
	if err != nil {
		logger.Warn("login failed", zap.String("user", name))
		return nil, err
	}
	logger.Debug("logged in", zap.String("user", sess.Username), zap.String("role", string(sess.Role)))
	return sess, nil
}

// openService opens the store and builds the service around it. The returned
// function closes the store.
func openService(ctx context.Context) (*app.Service, func(), error) {
	db, closeFn, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	exec := executor.New(
		executor.WithAttempts(cfg.RetryAttempts),
		executor.WithDelay(cfg.RetryDelay),
		executor.WithLogger(logger),
	)

	var gen nlsql.Generator
	if cfg.LLMURL != "" {
		gen = nlsql.NewClient(nlsql.Config{
			BaseURL: cfg.LLMURL,
			Model:   cfg.LLMModel,
			APIKey:  cfg.LLMAPIKey,
			Table:   cfg.Table,
		}, logger)
	}

	svc := app.New(db, app.Options{
		Table:              cfg.Table,
		Executor:           exec,
		Generator:          gen,
		RewritePlaceholder: cfg.RewritePlaceholder,
		Logger:             logger,
	})
	return svc, closeFn, nil
}

// session logs in and opens the service in one step, which every data
// command needs.
func session(ctx context.Context) (*app.Service, *auth.Session, func(), error) {
	sess, err := login()
	if err != nil {
		return nil, nil, nil, err
	}
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return svc, sess, closeFn, nil
}
