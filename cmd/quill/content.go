package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/qconfig"
)

func newChatCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message>...",
		Short: "Ask the book's agents to act on an instruction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.bookID(nil, 0)
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.SendChatMessage(cmd.Context(), id, strings.Join(args, " "))
			if err != nil {
				return describeErr("chat", err)
			}
			if opts.json() {
				return opts.printJSON(resp)
			}
			if resp.AgentName != "" {
				cyan.Fprintf(opts.stdout, "%s: ", resp.AgentName)
			}
			fmt.Fprintln(opts.stdout, resp.Response)
			for _, a := range resp.ActionsTaken {
				fmt.Fprintln(opts.stdout, gray.Sprint("  • "+a))
			}
			return nil
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "export <markdown|html> [book-id]",
		Short:     "Download the rendered book",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{string(quill.ExportMarkdown), string(quill.ExportHTML)},
		RunE: func(cmd *cobra.Command, args []string) error {
			format := quill.ExportFormat(args[0])
			if format != quill.ExportMarkdown && format != quill.ExportHTML {
				return usagef("unknown export format %q", args[0])
			}
			id, err := opts.bookID(args, 1)
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			body, err := c.Export(cmd.Context(), id, format)
			if err != nil {
				return describeErr("export", err)
			}
			defer body.Close()

			if output == "-" {
				_, err := io.Copy(opts.stdout, body)
				return err
			}
			if output == "" {
				output = fmt.Sprintf("book-%d%s", id, format.Extension())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			if opts.json() {
				return opts.printJSON(map[string]any{"path": output, "bytes": n})
			}
			fmt.Fprintf(opts.stdout, "Wrote %s %s\n", output, gray.Sprintf("(%d bytes)", n))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default book-<id>.<ext>, - for stdout)")
	return cmd
}

func newIdeasCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ideas",
		Short: "Generate book ideas and pick one to create",
	}

	var req quill.IdeaRequest
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Ask the ideation agent for book ideas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Topics) == "" && strings.TrimSpace(req.Keywords) == "" {
				return usagef("pass --topics or --keywords")
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.GenerateIdeas(cmd.Context(), &req)
			if err != nil {
				return describeErr("generate ideas", err)
			}

			statePath, err := qconfig.DefaultStatePath()
			if err != nil {
				return err
			}
			if err := qconfig.UpdateStateAt(cmd.Context(), statePath, func(st *qconfig.State) error {
				st.LastIdeas = resp.Ideas
				return nil
			}); err != nil {
				return err
			}

			if opts.json() {
				return opts.printJSON(resp.Ideas)
			}
			for i, idea := range resp.Ideas {
				bold.Fprintf(opts.stdout, "%d. %s", i+1, idea.Title)
				fmt.Fprintln(opts.stdout, gray.Sprintf("  [%s, %s]", idea.Genre, idea.TargetAudience))
				if idea.Description != "" {
					fmt.Fprintln(opts.stdout, "   "+idea.Description)
				}
			}
			fmt.Fprintln(opts.stdout, gray.Sprint("Pick one with `quill ideas select <n>`."))
			return nil
		},
	}
	gen.Flags().StringVar(&req.Topics, "topics", "", "topics to explore")
	gen.Flags().StringVar(&req.Keywords, "keywords", "", "keywords to include")

	sel := &cobra.Command{
		Use:   "select <n>",
		Short: "Keep idea n for `quill book create --from-idea`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parsePositive(args[0], "idea number")
			if err != nil {
				return err
			}
			statePath, err := qconfig.DefaultStatePath()
			if err != nil {
				return err
			}
			idea, err := qconfig.SelectIdeaByIndex(cmd.Context(), statePath, n)
			if err != nil {
				return usageError{err}
			}
			if opts.json() {
				return opts.printJSON(idea)
			}
			fmt.Fprintf(opts.stdout, "Selected %s\n", cyan.Sprint(idea.Title))
			return nil
		},
	}

	cmd.AddCommand(gen, sel)
	return cmd
}
