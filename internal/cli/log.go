package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/botscript/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// LogEntry is one notification as printed by the log command.
type LogEntry struct {
	Seq        int64     `json:"seq"`
	ChannelSeq int64     `json:"channel_seq"`
	CreatedAt  time.Time `json:"created_at"`
	Message    string    `json:"message"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log [identifier]",
		Short: "Show stored notifications",
		Long: `Show the notifications a bot published, oldest first, from the
notification database. Without an identifier, list the identifiers the
database knows.

Example:
  botscript log --db ./botscript.db
  botscript log du_example.org_alice --limit 50`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides settings)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "show at most this many recent notifications (0 for all)")

	return cmd
}

func runLog(opts *LogOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dbPath := opts.Database
	if dbPath == "" {
		s, err := loadSettings(opts.RootOptions, cmd)
		if err != nil {
			return err
		}
		dbPath = s.Database
	}
	if dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "no database configured (use --db or BOTSCRIPT_DATABASE)", nil)
	}
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "database not found: "+dbPath, nil)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmdContext(cmd)
	if len(args) == 0 {
		return listIdentifiers(ctx, st, opts, formatter)
	}
	return showNotifications(ctx, st, args[0], opts, formatter)
}

func listIdentifiers(ctx context.Context, st *store.Store, opts *LogOptions, formatter *OutputFormatter) error {
	ids, err := st.Identifiers(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to list identifiers", err)
	}
	if opts.Format == "json" {
		return formatter.Success(ids)
	}
	if len(ids) == 0 {
		formatter.Line("No bots recorded.")
		return nil
	}
	for _, id := range ids {
		formatter.Line("%s", id)
	}
	return nil
}

func showNotifications(ctx context.Context, st *store.Store, identifier string, opts *LogOptions, formatter *OutputFormatter) error {
	rows, err := st.ReadNotifications(ctx, identifier, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to read notifications", err)
	}

	entries := make([]LogEntry, 0, len(rows))
	for _, n := range rows {
		entries = append(entries, LogEntry{
			Seq:        n.Seq,
			ChannelSeq: n.ChannelSeq,
			CreatedAt:  n.CreatedAt,
			Message:    n.Encode(),
		})
	}

	if opts.Format == "json" {
		return formatter.Success(entries)
	}
	if len(entries) == 0 {
		formatter.Line("No notifications for %s.", identifier)
		return nil
	}
	for _, e := range entries {
		formatter.Line("%s %s", e.CreatedAt.Format(time.RFC3339), e.Message)
	}
	return nil
}
