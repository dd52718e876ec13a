package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/journal"
	"github.com/quillforge/quill/client/qconfig"
	"github.com/quillforge/quill/client/realtime"
	"github.com/quillforge/quill/client/reconcile"
	"github.com/quillforge/quill/client/view"
)

type watchOptions struct {
	exitOnComplete bool
	journalPath    string
	plain          bool
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var wo watchOptions
	var record bool
	cmd := &cobra.Command{
		Use:   "watch [book-id]",
		Short: "Follow agent activity and chapter progress live",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.bookID(args, 0)
			if err != nil {
				return err
			}
			c, sel, err := opts.client()
			if err != nil {
				return err
			}
			if record && wo.journalPath == "" {
				if wo.journalPath, err = qconfig.DefaultJournalPath(); err != nil {
					return err
				}
			}
			return runWatch(cmd.Context(), opts, c, sel, id, wo)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&wo.exitOnComplete, "exit-on-complete", false, "stop when the backend reports generation_complete")
	f.BoolVar(&wo.plain, "plain", false, "print one line per event instead of the live view")
	f.BoolVar(&record, "record", false, "journal received events to the default journal")
	f.StringVar(&wo.journalPath, "journal", "", "journal received events to this sqlite file")
	return cmd
}

// runWatch follows book id until ctx ends or, with exitOnComplete, the
// backend reports generation_complete.
func runWatch(ctx context.Context, opts *rootOptions, c *quill.Client, sel *qconfig.Selection, id int, wo watchOptions) error {
	logger := opts.logger(sel)

	title, err := bookTitle(ctx, c, id, logger)
	if err != nil {
		return err
	}

	notices := make(chan view.Notice, 8)
	done := make(chan struct{})
	var doneOnce sync.Once
	store := reconcile.NewStore(
		reconcile.WithStoreLogger(logger),
		reconcile.WithNotifier(func(ev realtime.Event) {
			select {
			case notices <- view.NoticeFromEvent(ev):
			default:
			}
			if wo.exitOnComplete && ev.Type == realtime.TypeGenerationComplete {
				doneOnce.Do(func() { close(done) })
			}
		}),
	)
	defer store.Close()

	seedStore(ctx, c, id, store, logger)

	tui := !wo.plain && !opts.json() && opts.isTerminal()
	var handler realtime.Handler = store
	if !tui {
		handler = &linePrinter{opts: opts, next: store}
	}
	if wo.journalPath != "" {
		j, err := journal.Open(wo.journalPath, journal.WithLogger(logger))
		if err != nil {
			return err
		}
		defer j.Close()
		handler = journal.NewRecorder(j, id, handler)
	}

	ch := realtime.New(
		realtime.NewWebsocketDialer(sel.HandshakeTimeout, sel.APIKey),
		sel.BaseURL,
		handler,
		realtime.WithLogger(logger),
		realtime.WithReconnectDelay(sel.ReconnectDelay),
	)
	ch.Open(id)
	defer ch.Close()

	if !tui {
		select {
		case <-ctx.Done():
		case <-done:
		}
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, _ := store.Subscribe(subCtx)
	go func() {
		select {
		case <-done:
			// Unsubscribing closes updates, which ends the program.
			cancel()
		case <-subCtx.Done():
		}
	}()

	p := tea.NewProgram(view.NewModel(title, updates, notices), tea.WithContext(ctx), tea.WithOutput(opts.stdout))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// bookTitle names the book for the view. A book the backend does not know
// is an error, since its stream would only ever reconnect.
func bookTitle(ctx context.Context, c *quill.Client, id int, logger *log.Logger) (string, error) {
	book, err := c.GetBook(ctx, id)
	switch {
	case quill.IsNotFound(err):
		return "", describeErr(fmt.Sprintf("watch book %d", id), err)
	case err != nil:
		logger.Warn("could not load book", "book_id", id, "err", err)
		return fmt.Sprintf("Book %d", id), nil
	}
	return book.DisplayTitle(), nil
}

// seedStore loads the REST view so the screen is populated before the first
// event. Failures only cost the head start.
func seedStore(ctx context.Context, c *quill.Client, id int, store *reconcile.Store, logger *log.Logger) {
	if st, err := c.GetBookStatus(ctx, id); err != nil {
		logger.Warn("could not load status", "book_id", id, "err", err)
	} else {
		store.ApplyGenerationStatus(st)
	}
	if toc, err := c.ListChapters(ctx, id); err != nil {
		logger.Warn("could not load chapters", "book_id", id, "err", err)
	} else {
		store.ApplyChapterList(toc)
	}
}

// linePrinter writes each event and connection change as it arrives, then
// passes it on.
type linePrinter struct {
	opts *rootOptions
	next *reconcile.Store
}

func (p *linePrinter) HandleEvent(ev realtime.Event) {
	if p.opts.json() {
		if frame, err := ev.MarshalJSON(); err == nil {
			fmt.Fprintln(p.opts.stdout, string(frame))
		}
	} else {
		line := view.Line(ev)
		switch ev.Type {
		case realtime.TypeGenerationComplete:
			line = green.Sprint(line)
		case realtime.TypeError:
			line = red.Sprint(line)
		}
		fmt.Fprintf(p.opts.stdout, "%s %s\n", gray.Sprint(time.Now().Format("15:04:05")), line)
	}
	p.next.HandleEvent(ev)
}

func (p *linePrinter) HandleState(c realtime.Connection) {
	if !p.opts.json() {
		msg := c.State.String()
		if c.State == realtime.Reconnecting {
			msg = fmt.Sprintf("%s (attempt %d)", msg, c.RetryCount)
		}
		fmt.Fprintf(p.opts.stderr, "%s %s\n", gray.Sprint(time.Now().Format("15:04:05")), yellow.Sprint(msg))
	}
	p.next.HandleState(c)
}

func newReplayCommand(opts *rootOptions) *cobra.Command {
	var path string
	var list, prune bool
	cmd := &cobra.Command{
		Use:   "replay [book-id]",
		Short: "Rebuild a book's last watched view from the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if path == "" {
				var err error
				if path, err = qconfig.DefaultJournalPath(); err != nil {
					return err
				}
			}
			j, err := journal.Open(path, journal.WithLogger(opts.logger(nil)))
			if err != nil {
				return err
			}
			defer j.Close()

			if list {
				books, err := j.Books(ctx)
				if err != nil {
					return err
				}
				if opts.json() {
					return opts.printJSON(books)
				}
				for _, b := range books {
					fmt.Fprintln(opts.stdout, b)
				}
				return nil
			}

			id, err := opts.bookID(args, 0)
			if err != nil {
				return err
			}
			rec := reconcile.NewReconciler()
			n, err := j.Replay(ctx, id, rec.Apply)
			if err != nil {
				return err
			}
			snap := rec.Snapshot()
			if opts.json() {
				if err := opts.printJSON(snap); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(opts.stdout, view.Render(snap, false))
				fmt.Fprintln(opts.stdout, gray.Sprintf("replayed %d events", n))
			}

			if prune {
				removed, err := j.Prune(ctx, id)
				if err != nil {
					return err
				}
				if !opts.json() {
					fmt.Fprintln(opts.stdout, gray.Sprintf("pruned %d events", removed))
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&path, "journal", "", "journal file (default ~/.config/quill/journal.db)")
	f.BoolVar(&list, "list", false, "list books that have journaled events")
	f.BoolVar(&prune, "prune", false, "delete the book's events after replaying")
	return cmd
}
