package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koba/sheetql/internal/auth"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/sheet"
	"github.com/koba/sheetql/internal/source"
)

var (
	// import-db flags
	srcConfig   source.Config
	sourceTable string
	limit       int
	listTables  bool

	// insert/update/delete flags
	setPairs   []string
	wherePairs []string

	// export flags
	exportFormat string
	outputPath   string

	// user add flags
	newRole string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Replace the active table with a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var importCmd = &cobra.Command{
	Use:   "import-db",
	Short: "Replace the active table with a table from MySQL or PostgreSQL",
	Long: `Read one table from a live MySQL or PostgreSQL database and load it as the
active table. Connection settings fall back to DB_TYPE, DB_HOST, DB_PORT,
DB_NAME, DB_USER and DB_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the columns of the active table",
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

var rowsCmd = &cobra.Command{
	Use:   "rows",
	Short: "Show every row of the active table",
	Args:  cobra.NoArgs,
	RunE:  runRows,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question about the active table",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var insertCmd = &cobra.Command{
	Use:   "insert --set col=value...",
	Short: "Insert one record",
	Args:  cobra.NoArgs,
	RunE:  runInsert,
}

var updateCmd = &cobra.Command{
	Use:   "update --set col=value... --where col=value...",
	Short: "Update the records matching every filter",
	Args:  cobra.NoArgs,
	RunE:  runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete --where col=value...",
	Short: "Delete the records matching every filter",
	Args:  cobra.NoArgs,
	RunE:  runDelete,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the active table as CSV or XLSX",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create or replace a user",
	Long: `Create or replace a user in the users file. Once the file has users, an
admin has to log in first.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

func init() {
	importCmd.Flags().StringVar(&srcConfig.Type, "db-type", "", "Source database type: mysql or postgres")
	importCmd.Flags().StringVar(&srcConfig.Host, "db-host", "", "Source database host")
	importCmd.Flags().StringVar(&srcConfig.Port, "db-port", "", "Source database port")
	importCmd.Flags().StringVar(&srcConfig.Database, "db-name", "", "Source database name")
	importCmd.Flags().StringVar(&srcConfig.User, "db-user", "", "Source database user")
	importCmd.Flags().StringVar(&srcConfig.Password, "db-password", "", "Source database password")
	importCmd.Flags().StringVar(&sourceTable, "source-table", "", "Table to import")
	importCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of rows to import (default: unlimited)")
	importCmd.Flags().BoolVar(&listTables, "list", false, "List the source tables and their columns instead of importing")

	insertCmd.Flags().StringArrayVar(&setPairs, "set", nil, "Column value as col=value (repeatable)")
	updateCmd.Flags().StringArrayVar(&setPairs, "set", nil, "Column value as col=value (repeatable)")
	updateCmd.Flags().StringArrayVar(&wherePairs, "where", nil, "Filter as col=value (repeatable, all must match)")
	deleteCmd.Flags().StringArrayVar(&wherePairs, "where", nil, "Filter as col=value (repeatable, all must match)")

	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv or xlsx")
	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: stdout)")

	userAddCmd.Flags().StringVar(&newRole, "role", "viewer", "Role: admin or viewer")
	userCmd.AddCommand(userAddCmd)

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(rowsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(userCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	fmt.Printf("Loading %s into %s\n", args[0], svc.Table())
	ts, n, err := svc.Upload(cmd.Context(), sess, args[0])
	if err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}

	fmt.Printf("Loaded %d rows into %s\n", n, ts.Name)
	printSchema(os.Stdout, ts)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	config, err := source.LoadConfigFromEnv(srcConfig)
	if err != nil {
		return fmt.Errorf("failed to load source config: %w", err)
	}
	src, err := source.NewSource(config)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	svc, sess, closeFn, err := session(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := sess.RequireAdmin(); err != nil {
		return err
	}

	if err := src.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to source: %w", err)
	}
	defer src.Close()

	if listTables {
		return printSourceTables(cmd, src)
	}
	if sourceTable == "" {
		return fmt.Errorf("--source-table is required (use --list to see the tables)")
	}

	fmt.Printf("Importing %s.%s into %s\n", config.Database, sourceTable, svc.Table())
	ts, n, err := svc.Import(ctx, sess, src, sourceTable, limit)
	if err != nil {
		return fmt.Errorf("failed to import: %w", err)
	}

	fmt.Printf("Loaded %d rows into %s\n", n, ts.Name)
	printSchema(os.Stdout, ts)
	return nil
}

func printSourceTables(cmd *cobra.Command, src source.Source) error {
	tables, err := src.GetAllTables(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		cols, err := src.GetTableColumns(cmd.Context(), t)
		if err != nil {
			return fmt.Errorf("failed to get columns of %s: %w", t, err)
		}
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = fmt.Sprintf("%s %s", c.Name, c.Type)
		}
		fmt.Printf("%s (%s)\n", t, strings.Join(names, ", "))
	}
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	ts, err := svc.IntrospectSchema(cmd.Context(), sess)
	if err != nil {
		return err
	}
	info, err := svc.LoadInfo(cmd.Context(), sess)
	if err != nil {
		return err
	}

	fmt.Printf("Table: %s\n", ts.Name)
	if src := info["source"]; src != "" {
		fmt.Printf("Loaded from %s at %s (%s rows)\n", src, info["loaded_at"], info["rows"])
	}
	printSchema(os.Stdout, ts)
	return nil
}

func runRows(cmd *cobra.Command, args []string) error {
	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.Rows(cmd.Context(), sess)
	if err != nil {
		return err
	}
	printResult(os.Stdout, res)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	ans, err := svc.RunGeneratedQuery(cmd.Context(), sess, strings.Join(args, " "))
	return printAnswer(os.Stdout, ans, err)
}

func runInsert(cmd *cobra.Command, args []string) error {
	pairs, err := parsePairs(setPairs)
	if err != nil {
		return err
	}
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		values[p.Column] = p.Value
	}

	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := svc.InsertRecord(cmd.Context(), sess, values); err != nil {
		return err
	}
	fmt.Println("Record inserted successfully")
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	set, err := parsePairs(setPairs)
	if err != nil {
		return err
	}
	where, err := parsePairs(wherePairs)
	if err != nil {
		return err
	}

	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := svc.UpdateRecord(cmd.Context(), sess, schema.UpdateSet(set), where)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %d record(s)\n", n)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	where, err := parsePairs(wherePairs)
	if err != nil {
		return err
	}

	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := svc.DeleteRecord(cmd.Context(), sess, where)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d record(s)\n", n)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := sheet.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	svc, sess, closeFn, err := session(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := svc.Export(cmd.Context(), sess, format, w); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	if outputPath != "" {
		fmt.Printf("Exported %s to %s\n", svc.Table(), outputPath)
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	role, err := auth.ParseRole(newRole)
	if err != nil {
		return err
	}

	users, err := auth.LoadStore(cfg.UsersFile)
	if err != nil {
		return err
	}
	if len(users.Usernames()) > 0 {
		sess, err := login()
		if err != nil {
			return err
		}
		if err := sess.RequireAdmin(); err != nil {
			return err
		}
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	if err := users.SetUser(args[0], password, role); err != nil {
		return err
	}
	if err := users.Save(); err != nil {
		return err
	}

	fmt.Printf("User %s saved with role %s\n", args[0], role)
	return nil
}
