package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/koba/sheetql/internal/app"
	"github.com/koba/sheetql/internal/auth"
	"github.com/koba/sheetql/internal/candidate"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Ask questions interactively",
	Long: `Start an interactive session. Plain lines are questions; lines starting
with a backslash are commands (\h for help).`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

const shellHelp = `Commands:
  \schema        show the columns of the active table
  \rows          show every row
  \sql <query>   run SQL directly (same checks as generated queries)
  \h             show this help
  \q             quit
Anything else is sent as a question.`

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sheetql_history")
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, sess, closeFn, err := session(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sheetql> ",
		HistoryFile:     historyFile(),
		AutoComplete:    readline.NewPrefixCompleter(readline.PcItem(`\schema`), readline.PcItem(`\rows`), readline.PcItem(`\sql`), readline.PcItem(`\h`), readline.PcItem(`\q`)),
		InterruptPrompt: "^C",
		EOFPrompt:       `\q`,

		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Logged in as %s (%s). Table: %s. Type \\h for help.\n", sess.Username, sess.Role, svc.Table())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == `\q` {
			return nil
		}
		if err := shellLine(ctx, svc, sess, line); err != nil {
			if isWarning(err) {
				fmt.Printf("Warning: %v\n", err)
			} else {
				fmt.Printf("Error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func shellLine(ctx context.Context, svc *app.Service, sess *auth.Session, line string) error {
	switch {
	case line == `\h`:
		fmt.Println(shellHelp)
		return nil
	case line == `\schema`:
		ts, err := svc.IntrospectSchema(ctx, sess)
		if err != nil {
			return err
		}
		printSchema(os.Stdout, ts)
		return nil
	case line == `\rows`:
		res, err := svc.Rows(ctx, sess)
		if err != nil {
			return err
		}
		printResult(os.Stdout, res)
		return nil
	case strings.HasPrefix(line, `\sql `):
		c := candidate.Candidate{Kind: candidate.Executable, Text: strings.TrimPrefix(line, `\sql `)}
		ans, err := svc.RunCandidate(ctx, sess, c)
		return printAnswer(os.Stdout, ans, err)
	case strings.HasPrefix(line, `\`):
		return fmt.Errorf("unknown command %s (\\h for help)", line)
	default:
		ans, err := svc.RunGeneratedQuery(ctx, sess, line)
		return printAnswer(os.Stdout, ans, err)
	}
}
