package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codigosgratis/wikisync/internal/codes"
	"github.com/codigosgratis/wikisync/internal/logging"
)

func newReconcileCmd() *cobra.Command {
	var (
		previousPath string
		observedPath string
		outPath      string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Merge a freshly observed code state into the previous one.",
		Long: `reconcile takes the previously published active/expired code state
and the state observed by the latest crawl, demotes vanished active
codes to expired, and writes the merged state. The output is only
written when it actually differs from the previous state.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logging.New(false)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			prev, err := readState(previousPath)
			if err != nil {
				return err
			}
			observed, err := readState(observedPath)
			if err != nil {
				return err
			}

			merged, changed := codes.Reconcile(prev, observed)
			if !changed && !force {
				logger.Info("state unchanged, nothing written",
					zap.Int("active", len(merged.Active)),
					zap.Int("expired", len(merged.Expired)),
				)
				return nil
			}

			if err := writeState(outPath, merged); err != nil {
				return err
			}
			logger.Info("state written",
				zap.String("path", outPath),
				zap.Int("active", len(merged.Active)),
				zap.Int("expired", len(merged.Expired)),
				zap.Bool("changed", changed),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&previousPath, "previous", "", "previously published state JSON")
	cmd.Flags().StringVar(&observedPath, "observed", "", "state observed by the latest crawl")
	cmd.Flags().StringVar(&outPath, "out", "state.json", "output path for the merged state")
	cmd.Flags().BoolVar(&force, "force", false, "write the output even when nothing changed")
	_ = cmd.MarkFlagRequired("previous")
	_ = cmd.MarkFlagRequired("observed")

	return cmd
}

func readState(path string) (codes.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return codes.State{}, fmt.Errorf("read state %s: %w", path, err)
	}
	var st codes.State
	if err := json.Unmarshal(data, &st); err != nil {
		return codes.State{}, fmt.Errorf("parse state %s: %w", path, err)
	}
	return st, nil
}

func writeState(path string, st codes.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
