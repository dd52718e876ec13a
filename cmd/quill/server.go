package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillforge/quill/client/qconfig"
)

func newServerCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage configured backends",
	}
	cmd.AddCommand(newServerAddCommand(opts))
	cmd.AddCommand(newServerListCommand(opts))
	cmd.AddCommand(newServerRemoveCommand(opts))
	cmd.AddCommand(newServerDefaultCommand(opts))
	return cmd
}

func newServerAddCommand(opts *rootOptions) *cobra.Command {
	var makeDefault bool
	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add or replace a server in the config file",
		Long:  "The --api-key given with add is stored with the server.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			url := strings.TrimSpace(args[1])
			if name == "" {
				return usagef("empty server name")
			}
			if err := qconfig.ValidateBaseURL(url); err != nil {
				return usageError{err}
			}
			path, err := qconfig.DefaultGlobalConfigPath()
			if err != nil {
				return err
			}
			if err := qconfig.UpdateGlobalAt(cmd.Context(), path, func(cfg *qconfig.GlobalConfig) error {
				srv := cfg.Servers[name]
				srv.URL = url
				if cmd.Flags().Changed("api-key") {
					srv.APIKey = strings.TrimSpace(opts.APIKey)
				}
				cfg.Servers[name] = srv
				if makeDefault || cfg.DefaultServer == "" {
					cfg.DefaultServer = name
				}
				return nil
			}); err != nil {
				return err
			}
			if opts.json() {
				return opts.printJSON(map[string]string{"name": name, "url": url})
			}
			fmt.Fprintf(opts.stdout, "Saved server %s %s\n", cyan.Sprint(name), gray.Sprint(url))
			return nil
		},
	}
	cmd.Flags().BoolVar(&makeDefault, "default", false, "make this the default server")
	return cmd
}

func newServerListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := qconfig.LoadGlobal()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfg.Servers))
			for name := range cfg.Servers {
				names = append(names, name)
			}
			sort.Strings(names)

			if opts.json() {
				type row struct {
					Name    string `json:"name"`
					URL     string `json:"url"`
					HasKey  bool   `json:"has_api_key"`
					Default bool   `json:"default"`
				}
				rows := make([]row, 0, len(names))
				for _, name := range names {
					srv := cfg.Servers[name]
					rows = append(rows, row{Name: name, URL: srv.URL, HasKey: srv.APIKey != "", Default: name == cfg.DefaultServer})
				}
				return opts.printJSON(rows)
			}
			if len(names) == 0 {
				fmt.Fprintln(opts.stdout, gray.Sprint("No servers configured. Add one with `quill server add <name> <url>`."))
				return nil
			}
			for _, name := range names {
				marker := " "
				if name == cfg.DefaultServer {
					marker = green.Sprint("*")
				}
				fmt.Fprintf(opts.stdout, "%s %-16s %s\n", marker, name, cfg.Servers[name].URL)
			}
			return nil
		},
	}
}

func newServerRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a server from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			path, err := qconfig.DefaultGlobalConfigPath()
			if err != nil {
				return err
			}
			if err := qconfig.UpdateGlobalAt(cmd.Context(), path, func(cfg *qconfig.GlobalConfig) error {
				if _, ok := cfg.Servers[name]; !ok {
					return usagef("unknown server %q", name)
				}
				delete(cfg.Servers, name)
				if cfg.DefaultServer == name {
					cfg.DefaultServer = ""
				}
				return nil
			}); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Removed server %s\n", name)
			return nil
		},
	}
}

func newServerDefaultCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "default <name>",
		Short: "Set the server used when --server is not given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			path, err := qconfig.DefaultGlobalConfigPath()
			if err != nil {
				return err
			}
			if err := qconfig.UpdateGlobalAt(cmd.Context(), path, func(cfg *qconfig.GlobalConfig) error {
				if _, ok := cfg.Servers[name]; !ok {
					return usagef("unknown server %q", name)
				}
				cfg.DefaultServer = name
				return nil
			}); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Default server is now %s\n", cyan.Sprint(name))
			return nil
		},
	}
}
