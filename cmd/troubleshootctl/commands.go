package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/transfer"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/config"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/di"
)

var (
	configPath string
	logLevel   string
	outPath    string
	importMode string
	forceFlag  bool
	sweepAfter time.Duration

	container *di.Container
	cleanup   = func() {}

	rootCmd = &cobra.Command{
		Use:           "troubleshootctl",
		Short:         "Administer the troubleshooting graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Observability.LogLevel = logLevel
			}
			c, release, err := di.InitializeContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			container, cleanup = c, release
			_, err = container.Store.EnsureStartNode(cmd.Context(), cfg.Graph.StartText)
			return err
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export [category]",
		Short: "Export one category, or every exportable category when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}

	importCmd = &cobra.Command{
		Use:   "import FILE...",
		Short: "Import documents from files; each holds one document or an array",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}

	validateCmd = &cobra.Command{
		Use:   "validate CATEGORY",
		Short: "Report questions reachable from the category root with no way forward",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	issuesCmd = &cobra.Command{
		Use:   "issues",
		Short: "List issues",
		Args:  cobra.NoArgs,
		RunE:  runIssues,
	}

	toggleCmd = &cobra.Command{
		Use:   "toggle CATEGORY",
		Short: "Flip an issue between published and unpublished",
		Args:  cobra.ExactArgs(1),
		RunE:  runToggle,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Abandon active sessions idle for longer than --after",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (defaults to $CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "write to file instead of stdout")
	importCmd.Flags().StringVarP(&importMode, "mode", "m", string(transfer.ModeReject), "collision policy: reject, replace or merge")
	toggleCmd.Flags().BoolVar(&forceFlag, "force", false, "publish even when the graph is incomplete")
	sweepCmd.Flags().DurationVar(&sweepAfter, "after", 0, "idle duration (defaults to sessions.abandon_after)")

	issuesCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(exportCmd, importCmd, validateCmd, issuesCmd, sweepCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var payload interface{}
	if len(args) == 1 {
		doc, err := container.Transfer.ExportCategory(ctx, args[0])
		if err != nil {
			return err
		}
		payload = doc
	} else {
		docs, err := container.Transfer.ExportAll(ctx)
		if err != nil {
			return err
		}
		payload = docs
	}

	out := cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return writeJSON(out, payload)
}

func runImport(cmd *cobra.Command, args []string) error {
	mode, err := transfer.ParseMode(importMode)
	if err != nil {
		return err
	}

	var docs []*transfer.Document
	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		fileDocs, err := transfer.DecodeDocuments(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		docs = append(docs, fileDocs...)
	}

	res, err := container.Transfer.ImportDocuments(cmd.Context(), docs, mode)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d of %d documents imported, %d errors", len(res.Success), len(docs), len(res.Errors))
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	res, err := container.Issues.Validate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s has %d incomplete questions", args[0], len(res.IncompleteNodes))
	}
	return nil
}

func runIssues(cmd *cobra.Command, args []string) error {
	list, err := container.Issues.List(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tNAME\tACTIVE\tQUESTIONS")
	for _, issue := range list {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\n", issue.Category, issue.Name, issue.IsActive, issue.QuestionCount)
	}
	return tw.Flush()
}

func runToggle(cmd *cobra.Command, args []string) error {
	issue, err := container.Issues.Toggle(cmd.Context(), args[0], forceFlag)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), issue)
}

func runSweep(cmd *cobra.Command, args []string) error {
	after := container.Config.Sessions.AbandonAfter
	if sweepAfter > 0 {
		after = sweepAfter
	}

	n, err := container.Sweeper.Sweep(cmd.Context(), after)
	if err != nil {
		return err
	}
	container.Logger.Info("Sweep finished", zap.Int("abandoned", n), zap.Duration("after", after))
	fmt.Fprintf(cmd.OutOrStdout(), "abandoned %d sessions\n", n)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
