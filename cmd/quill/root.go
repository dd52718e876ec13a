package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/qconfig"
)

// rootOptions holds global flags and the output streams shared by all commands.
type rootOptions struct {
	Server  string
	URL     string
	APIKey  string
	Book    int
	Format  string // "json" | "text"
	Verbose bool

	stdout io.Writer
	stderr io.Writer

	// isTerminal reports whether stdout is interactive.
	isTerminal func() bool
}

var validFormats = []string{"text", "json"}

// usageError marks mistakes in how the command was invoked.
type usageError struct{ error }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var u usageError
	if errors.As(err, &u) {
		return 2
	}
	return 1
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{
		stdout: stdout,
		stderr: stderr,
		isTerminal: func() bool {
			f, ok := stdout.(*os.File)
			return ok && term.IsTerminal(int(f.Fd()))
		},
	}

	cmd := &cobra.Command{
		Use:           "quill",
		Short:         "quill - drive the book generation backend from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return usagef("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Server, "server", "", "configured server name (or QUILL_SERVER)")
	pf.StringVar(&opts.URL, "url", "", "backend base URL (or QUILL_URL)")
	pf.StringVar(&opts.APIKey, "api-key", "", "API key (or QUILL_API_KEY)")
	pf.IntVar(&opts.Book, "book", 0, "book id (defaults to the active book)")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newBookCommand(opts))
	cmd.AddCommand(newUseCommand(opts))
	cmd.AddCommand(newChaptersCommand(opts))
	cmd.AddCommand(newChapterCommand(opts))
	cmd.AddCommand(newGenerateAllCommand(opts))
	cmd.AddCommand(newChatCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newIdeasCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newServerCommand(opts))
	return cmd
}

func (o *rootOptions) json() bool {
	return o.Format == "json"
}

func (o *rootOptions) resolve() (*qconfig.Selection, error) {
	global, err := qconfig.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return qconfig.Resolve(global, qconfig.ResolveOptions{
		ServerName:        o.Server,
		BaseURLOverride:   o.URL,
		APIKeyOverride:    o.APIKey,
		AllowEnvOverrides: true,
	})
}

func (o *rootOptions) client() (*quill.Client, *qconfig.Selection, error) {
	sel, err := o.resolve()
	if err != nil {
		return nil, nil, err
	}
	c, err := quill.NewWithAPIKey(sel.BaseURL, sel.APIKey)
	if err != nil {
		return nil, nil, err
	}
	return c, sel, nil
}

func (o *rootOptions) logger(sel *qconfig.Selection) *log.Logger {
	level := log.InfoLevel
	if sel != nil {
		level = sel.LogLevel
	}
	if o.Verbose {
		level = log.DebugLevel
	}
	return newLogger(o.stderr, level)
}

// bookID takes the book from args[i], then --book, then the active book.
func (o *rootOptions) bookID(args []string, i int) (int, error) {
	if len(args) > i {
		id, err := strconv.Atoi(strings.TrimSpace(args[i]))
		if err != nil || id <= 0 {
			return 0, usagef("invalid book id %q", args[i])
		}
		return id, nil
	}
	if o.Book > 0 {
		return o.Book, nil
	}
	path, err := qconfig.DefaultStatePath()
	if err != nil {
		return 0, err
	}
	st, err := qconfig.LoadStateFrom(path)
	if err != nil {
		return 0, err
	}
	if st.ActiveBook <= 0 {
		return 0, usagef("no book selected: pass an id, use --book, or run `quill use <id>`")
	}
	return st.ActiveBook, nil
}

func parsePositive(raw, what string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, usagef("invalid %s %q", what, raw)
	}
	return n, nil
}

func (o *rootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeErr turns backend errors into one-line messages.
func describeErr(action string, err error) error {
	var apiErr *quill.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s (http %d)", action, apiErr.Detail(), apiErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: cancelled", action)
	}
	return fmt.Errorf("%s: %w", action, err)
}

var (
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

func statusColor(status string) *color.Color {
	switch status {
	case "complete", "completed", "active":
		return green
	case "generating", "writing", "outlining", "pending":
		return yellow
	case "failed", "error":
		return red
	default:
		return gray
	}
}
