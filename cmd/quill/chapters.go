package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/reconcile"
)

func newChaptersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chapters",
		Short: "List a book's chapters",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list [book-id]",
		Short: "Show the table of contents with chapter status",
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
			toc, err := c.ListChapters(cmd.Context(), id)
			if err != nil {
				return describeErr("list chapters", err)
			}
			if opts.json() {
				return opts.printJSON(toc)
			}
			if len(toc) == 0 {
				fmt.Fprintln(opts.stdout, gray.Sprint("No chapters yet: the outline agent has not finished."))
				return nil
			}
			for _, it := range toc {
				fmt.Fprintf(opts.stdout, "%3d  %-48s %s\n", it.Chapter, it.Title, statusColor(it.Status).Sprint(it.Status))
			}
			return nil
		},
	})
	return cmd
}

func newChapterCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chapter",
		Short: "Read, generate and edit chapters of the active book",
	}
	cmd.AddCommand(newChapterGetCommand(opts))
	cmd.AddCommand(newChapterGenerateCommand(opts))
	cmd.AddCommand(newChapterUpdateCommand(opts))
	return cmd
}

func newChapterGetCommand(opts *rootOptions) *cobra.Command {
	var render bool
	cmd := &cobra.Command{
		Use:   "get <chapter>",
		Short: "Print a chapter's markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parsePositive(args[0], "chapter number")
			if err != nil {
				return err
			}
			id, err := opts.bookID(nil, 0)
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			ch, err := c.GetChapter(cmd.Context(), id, n)
			if err != nil {
				return describeErr("get chapter", err)
			}
			if opts.json() {
				return opts.printJSON(ch)
			}
			if ch.ContentMarkdown == "" {
				fmt.Fprintf(opts.stdout, "Chapter %d is %s and has no content yet.\n", n, ch.Status)
				return nil
			}
			if !render {
				_, err := io.WriteString(opts.stdout, ch.ContentMarkdown)
				return err
			}
			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
			if err != nil {
				return err
			}
			out, err := r.Render(ch.ContentMarkdown)
			if err != nil {
				return err
			}
			_, err = io.WriteString(opts.stdout, out)
			return err
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "render markdown for the terminal")
	return cmd
}

func newChapterGenerateCommand(opts *rootOptions) *cobra.Command {
	var perSecond float64
	cmd := &cobra.Command{
		Use:   "generate <chapter>...",
		Short: "Start background generation of one or more chapters",
		Long:  "Progress is reported on the realtime channel; use `quill watch` to follow it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chapters := make([]int, 0, len(args))
			seen := make(map[int]bool, len(args))
			for _, a := range args {
				n, err := parsePositive(a, "chapter number")
				if err != nil {
					return err
				}
				if !seen[n] {
					seen[n] = true
					chapters = append(chapters, n)
				}
			}
			id, err := opts.bookID(nil, 0)
			if err != nil {
				return err
			}
			c, sel, err := opts.client()
			if err != nil {
				return err
			}
			logger := opts.logger(sel)

			// Optimistic marks: generating until the trigger is known to have failed.
			store := reconcile.NewStore(reconcile.WithStoreLogger(logger))
			defer store.Close()
			rollbacks := make(map[int]func(), len(chapters))
			for _, n := range chapters {
				rollbacks[n] = store.MarkGenerating(n)
			}

			started, genErr := c.GenerateChapters(cmd.Context(), id, chapters, perSecond)
			ok := make(map[int]bool, len(started))
			for _, n := range started {
				ok[n] = true
			}
			for _, n := range chapters {
				if !ok[n] {
					rollbacks[n]()
				}
			}
			for _, err := range unwrapJoined(genErr) {
				var chErr *quill.ChapterError
				if errors.As(err, &chErr) {
					fmt.Fprintln(opts.stderr, red.Sprint(describeErr(fmt.Sprintf("chapter %d", chErr.Chapter), chErr.Err)))
				}
			}

			snap := store.Snapshot()
			if opts.json() {
				if err := opts.printJSON(snap.Chapters); err != nil {
					return err
				}
			} else {
				for _, ch := range snap.Chapters {
					fmt.Fprintf(opts.stdout, "chapter %d %s\n", ch.ChapterID, statusColor(string(ch.Status)).Sprint(ch.Status))
				}
			}
			if genErr != nil {
				if len(snap.Chapters) == 0 {
					return describeErr("generate", genErr)
				}
				return fmt.Errorf("%d of %d chapters failed to start", len(chapters)-len(snap.Chapters), len(chapters))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&perSecond, "rate", 2, "maximum generate requests per second")
	return cmd
}

// unwrapJoined flattens an errors.Join result.
func unwrapJoined(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func newChapterUpdateCommand(opts *rootOptions) *cobra.Command {
	var title, outline, contentFile string
	cmd := &cobra.Command{
		Use:   "update <chapter>",
		Short: "Edit a chapter's title, outline or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parsePositive(args[0], "chapter number")
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			req := &quill.ChapterUpdate{}
			if flags.Changed("title") {
				req.Title = &title
			}
			if flags.Changed("outline") {
				req.Outline = &outline
			}
			if flags.Changed("content-file") {
				var data []byte
				if contentFile == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(contentFile)
				}
				if err != nil {
					return err
				}
				content := string(data)
				req.ContentMarkdown = &content
			}
			if req.Title == nil && req.Outline == nil && req.ContentMarkdown == nil {
				return usagef("nothing to update: pass --title, --outline or --content-file")
			}

			id, err := opts.bookID(nil, 0)
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.UpdateChapter(cmd.Context(), id, n, req); err != nil {
				return describeErr("update chapter", err)
			}
			if opts.json() {
				return opts.printJSON(map[string]any{"book_id": id, "chapter": n, "updated": true})
			}
			fmt.Fprintf(opts.stdout, "Updated chapter %d\n", n)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&outline, "outline", "", "new outline")
	f.StringVar(&contentFile, "content-file", "", "markdown file with the new content (- for stdin)")
	return cmd
}

func newGenerateAllCommand(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "generate-all [book-id]",
		Short: "Start generation of every pending chapter",
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
			resp, err := c.GenerateAllChapters(cmd.Context(), id)
			if err != nil {
				return describeErr("generate all", err)
			}
			if opts.json() && !watch {
				return opts.printJSON(resp)
			}
			if !opts.json() {
				fmt.Fprintln(opts.stdout, green.Sprint(resp.Message))
			}
			if !watch {
				return nil
			}
			return runWatch(cmd.Context(), opts, c, sel, id, watchOptions{exitOnComplete: true})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "follow progress until generation completes")
	return cmd
}
