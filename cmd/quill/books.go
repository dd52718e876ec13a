package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/qconfig"
)

func newBookCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Create, inspect and delete books",
	}
	cmd.AddCommand(newBookCreateCommand(opts))
	cmd.AddCommand(newBookGetCommand(opts))
	cmd.AddCommand(newBookStatusCommand(opts))
	cmd.AddCommand(newBookDeleteCommand(opts))
	return cmd
}

func newBookCreateCommand(opts *rootOptions) *cobra.Command {
	cfg := quill.BookConfig{}
	var fromIdea bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a book and make it the active book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			statePath, err := qconfig.DefaultStatePath()
			if err != nil {
				return err
			}

			// The idea is taken up front and put back unless the book is created.
			var idea *quill.BookIdea
			created := false
			if fromIdea {
				if idea, err = qconfig.TakeSelectedIdea(ctx, statePath); err != nil {
					return err
				}
				if idea == nil {
					return usagef("no idea selected: run `quill ideas select <n>` first")
				}
				defer func() {
					if created {
						return
					}
					if err := qconfig.SelectIdea(context.WithoutCancel(ctx), statePath, *idea); err != nil {
						fmt.Fprintln(opts.stderr, red.Sprintf("could not restore selected idea: %v", err))
					}
				}()
				seeded := idea.BookConfig()
				flags := cmd.Flags()
				if !flags.Changed("idea") {
					cfg.BookIdea = seeded.BookIdea
				}
				if !flags.Changed("genre") {
					cfg.Genre = seeded.Genre
				}
				if !flags.Changed("audience") {
					cfg.TargetAudience = seeded.TargetAudience
				}
				if !flags.Changed("description") {
					cfg.Description = seeded.Description
				}
			}
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}

			c, sel, err := opts.client()
			if err != nil {
				return err
			}
			id, err := c.CreateBook(ctx, &cfg)
			if err != nil {
				return describeErr("create book", err)
			}
			created = true
			if err := qconfig.SetActiveBook(ctx, statePath, sel.ServerName, id); err != nil {
				return err
			}

			if opts.json() {
				return opts.printJSON(map[string]int{"id": id})
			}
			green.Fprintf(opts.stdout, "Created book %d", id)
			fmt.Fprintln(opts.stdout, gray.Sprint(" (now active)"))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BookIdea, "idea", "", "what the book is about (5-200 chars)")
	f.StringVar(&cfg.Genre, "genre", "", "genre (2-50 chars)")
	f.StringVar(&cfg.TargetAudience, "audience", "", "target audience")
	f.StringVar(&cfg.Description, "description", "", "longer description")
	f.IntVar(&cfg.Chapters, "chapters", 10, "number of chapters (5-30)")
	f.IntVar(&cfg.WordsPerChapter, "words", 2000, "words per chapter (1000-10000)")
	f.StringVar(&cfg.Tone, "tone", "professional", "tone: "+strings.Join(quill.Tones, ", "))
	f.BoolVar(&cfg.IncludeImages, "images", false, "include image suggestions")
	f.BoolVar(&cfg.IncludeCitations, "citations", true, "include citations")
	f.BoolVar(&fromIdea, "from-idea", false, "seed from the idea picked with `quill ideas select`")
	return cmd
}

func newBookGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [book-id]",
		Short: "Show a book",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.bookID(args, 0)
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			book, err := c.GetBook(cmd.Context(), id)
			if err != nil {
				return describeErr("get book", err)
			}
			if opts.json() {
				return opts.printJSON(book)
			}

			w := opts.stdout
			bold.Fprintf(w, "%s\n", book.DisplayTitle())
			fmt.Fprintf(w, "id %d  %s  %s\n", book.ID, book.Genre, statusColor(book.Status).Sprint(book.Status))
			if book.Description != "" {
				fmt.Fprintln(w, gray.Sprint(book.Description))
			}
			for _, ch := range book.Chapters {
				fmt.Fprintf(w, "  %2d. %-40s %s\n", ch.ChapterNumber, ch.Title, statusColor(ch.Status).Sprint(ch.Status))
			}
			return nil
		},
	}
}

func newBookStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [book-id]",
		Short: "Show generation progress and agent activity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.bookID(args, 0)
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			st, err := c.GetBookStatus(cmd.Context(), id)
			if err != nil {
				return describeErr("get status", err)
			}
			if opts.json() {
				return opts.printJSON(st)
			}

			w := opts.stdout
			fmt.Fprintf(w, "book %d %s  %d/%d chapters complete", st.BookID, statusColor(st.BookStatus).Sprint(st.BookStatus), st.ChaptersComplete, st.ChaptersTotal)
			if st.CurrentChapter != nil {
				fmt.Fprintf(w, "  (writing chapter %d)", *st.CurrentChapter)
			}
			fmt.Fprintln(w)
			for _, a := range st.Agents {
				fmt.Fprintf(w, "  %-16s %s", a.AgentName, statusColor(a.Status).Sprint(a.Status))
				if a.Status == "active" && a.CurrentTask != "" {
					fmt.Fprint(w, gray.Sprint("  "+a.CurrentTask))
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
}

func newBookDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.bookID(args, 0)
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.DeleteBook(cmd.Context(), id); err != nil {
				return describeErr("delete book", err)
			}

			statePath, err := qconfig.DefaultStatePath()
			if err != nil {
				return err
			}
			if err := qconfig.UpdateStateAt(cmd.Context(), statePath, func(st *qconfig.State) error {
				if st.ActiveBook == id {
					st.ActiveBook = 0
				}
				return nil
			}); err != nil {
				return err
			}

			if opts.json() {
				return opts.printJSON(map[string]any{"id": id, "deleted": true})
			}
			fmt.Fprintf(opts.stdout, "Deleted book %d\n", id)
			return nil
		},
	}
}

func newUseCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <book-id>",
		Short: "Make a book the default for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePositive(args[0], "book id")
			if err != nil {
				return err
			}
			sel, err := opts.resolve()
			if err != nil {
				return err
			}
			statePath, err := qconfig.DefaultStatePath()
			if err != nil {
				return err
			}
			if err := qconfig.SetActiveBook(cmd.Context(), statePath, sel.ServerName, id); err != nil {
				return err
			}
			if opts.json() {
				return opts.printJSON(map[string]any{"active_book": id, "server": sel.ServerName})
			}
			fmt.Fprintf(opts.stdout, "Active book is now %s\n", cyan.Sprint(id))
			return nil
		},
	}
}
