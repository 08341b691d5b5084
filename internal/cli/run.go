package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/botscript/internal/bridge"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Packages string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config.json>...",
		Short: "Load bots and print their notifications",
		Long: `Load one bot per configuration file and print every notification
in its encoded form, prefixed with the bot's handle, until interrupted.

Example:
  botscript run alice.json bob.json
  botscript run --packages ./packages --db ./botscript.db alice.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBots(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides settings)")
	cmd.Flags().StringVar(&opts.Packages, "packages", "", "package directory (overrides settings)")

	return cmd
}

// printer serializes notification lines from many delivery goroutines.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

// botOutput prefixes each line with the bot's handle. The handle is set
// right after Construct, before any notification can be published.
type botOutput struct {
	p      *printer
	handle bridge.Handle
}

func (o *botOutput) Call(msg string) {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()
	fmt.Fprintf(o.p.w, "%d %s\n", o.handle, msg)
}

func runBots(opts *RunOptions, files []string, cmd *cobra.Command) error {
	configs := make([]string, len(files))
	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read configuration", err)
		}
		configs[i] = string(data)
	}

	s, err := loadSettings(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		s.Database = opts.Database
	}
	if opts.Packages != "" {
		s.PackagesDir = opts.Packages
	}
	logger := opts.logger()

	ctx, cancel := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := startRuntime(ctx, s, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("shutdown error", "error", closeErr)
		}
	}()

	out := &printer{w: cmd.OutOrStdout()}
	failed := 0
	for i, cfg := range configs {
		o := &botOutput{p: out}
		h := rt.bridge.Construct(o)
		o.handle = h
		if err := rt.bridge.LoadWait(ctx, h, cfg); err != nil {
			failed++
			logger.Error("bot failed to load", "file", files[i], "error", bridge.ErrorString(err))
			continue
		}
		logger.Info("bot loaded", "file", files[i], "handle", h, "identifier", rt.bridge.Identifier(h))
	}
	if failed == len(configs) {
		return NewExitError(ExitFailure, "no bot could be loaded")
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Bots running. Press Ctrl-C to stop.")
	<-ctx.Done()
	logger.Info("received signal, shutting down")
	return nil
}
