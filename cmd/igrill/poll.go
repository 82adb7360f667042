package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/igrill/pkg/igrill"
)

// pollCmd reads every configured thermometer once
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Read thermometers once",
	Long: `Connect to each thermometer, authenticate, read all of its values and
print them. Devices are polled in parallel.

Examples:
  igrill poll --address AA:BB:CC:DD:EE:FF --model igrill_v2
  igrill poll --format json`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

var (
	pollDevices deviceFlags
	pollFormat  string
)

func init() {
	pollDevices.register(pollCmd)
	pollCmd.Flags().StringVarP(&pollFormat, "format", "f", "text", "Output format (text, json, yaml)")
}

func runPoll(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(pollFormat); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, nil)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	devs, err := pollDevices.devices(cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	m, _, err := newManager(cfg, devs, igrill.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	failures := m.PollAll(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	handles := m.Devices()
	docs := make([]*document, 0, len(handles))
	var errs []error
	for _, h := range handles {
		pollErr := failures[h.Address()]
		if pollErr != nil {
			errs = append(errs, pollErr)
		}
		docs = append(docs, newDocument(h.Profile(), h.Snapshot(), pollErr))
	}
	if err := printDocuments(cmd.OutOrStdout(), pollFormat, docs); err != nil {
		return err
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d devices failed: %w", len(errs), len(handles), errors.Join(errs...))
	}
	return nil
}
