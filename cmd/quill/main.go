package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

func main() {
	loadDotenvBestEffort()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
		stop()
		os.Exit(exitCode(err))
	}
}

func loadDotenvBestEffort() {
	// Best effort: load from current working directory.
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.quill")
}

// newLogger writes timestamped logs to w, which defaults to stderr.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{ReportTimestamp: true, Prefix: "quill"})
	l.SetLevel(level)
	return l
}
