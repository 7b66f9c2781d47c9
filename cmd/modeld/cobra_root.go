package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

// buildRootCmd constructs the modeld command tree: serve runs the Server
// façade in-process; load/unload/status are thin admin clients against a
// running instance's HTTP surface, mirroring the Server façade's exposed
// LoadModel/UnloadModel/GetStatus surface (spec.md §6).
//
// Grounded on the teacher's internal/testctl/cobra_root.go tree-of-commands
// construction; flag defaults still read environment-variable overrides the
// way the teacher's cmd/modeld/main.go did for MODELD_ADDR.
func buildRootCmd() *cobra.Command {
	defaultAddr := "127.0.0.1:8080"
	if v := os.Getenv("MODELD_ADDR"); v != "" {
		defaultAddr = v
	}
	defaultConfig := os.Getenv("MODELD_CONFIG")

	root := &cobra.Command{
		Use:           "modeld",
		Short:         "Multi-framework inference serving runtime core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var addr string
	root.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "admin HTTP address (host:port)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server: load models, accept admin traffic until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			return runServe(cfgPath)
		},
	}
	serveCmd.Flags().String("config", defaultConfig, "path to server config (.yaml/.yml/.json/.toml)")
	_ = serveCmd.MarkFlagRequired("config")

	loadCmd := &cobra.Command{
		Use:   "load <model>",
		Short: "Load (or reload) a model by name on a running server (EXPLICIT control mode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAdminClient(addr).loadModel(args[0])
		},
	}

	unloadCmd := &cobra.Command{
		Use:   "unload <model>",
		Short: "Unload a model by name on a running server (EXPLICIT control mode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAdminClient(addr).unloadModel(args[0])
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print aggregate server/model status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAdminClient(addr).status()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(
		&cobra.Command{Use: "bash", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }},
		&cobra.Command{Use: "zsh", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }},
		&cobra.Command{Use: "fish", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }},
	)

	root.AddCommand(serveCmd, loadCmd, unloadCmd, statusCmd, completionCmd)
	return root
}
