package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/igrill/internal/discovery"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover nearby thermometers",
	Long: `Scan for Bluetooth Low Energy advertisements and list the ones whose
name identifies a supported thermometer, together with the detected model.

Use the reported address and model with 'igrill poll' or in the
devices section of the configuration.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 scans until Ctrl+C)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, _ []string) error {
	if !slices.Contains([]string{"table", "json"}, scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd, nil)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	transport, err := TransportFactory(cfg, logger)
	if err != nil {
		return err
	}
	dev, err := transport.Scanner()
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for thermometers", scanDuration)
	if scanFormat == "table" && progressEnabled() {
		progress.Start()
	}

	s := discovery.NewScanner(dev, logger)
	_, err = s.Scan(ctx, &discovery.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: scanNoDuplicate,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	})
	progress.Stop()
	if err != nil {
		return err
	}

	sightings := s.Sightings()
	if scanFormat == "json" {
		return printSightingsJSON(cmd.OutOrStdout(), sightings)
	}
	return printSightingsTable(cmd.OutOrStdout(), sightings)
}

func printSightingsTable(out io.Writer, sightings []discovery.Sighting) error {
	if len(sightings) == 0 {
		_, err := fmt.Fprintln(out, "No thermometers discovered")
		return err
	}

	rows := make([][]string, 0, len(sightings))
	for _, s := range sightings {
		name := s.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		rows = append(rows, []string{
			name,
			s.Address,
			string(s.Profile.Model()),
			fmt.Sprintf("%d dBm", s.RSSI),
			yesNo(s.Connectable),
		})
	}
	return printTable(out, []string{"NAME", "ADDRESS", "MODEL", "RSSI", "CONNECTABLE"}, rows)
}

func printSightingsJSON(out io.Writer, sightings []discovery.Sighting) error {
	list := make([]*orderedmap.OrderedMap[string, any], 0, len(sightings))
	for _, s := range sightings {
		m := orderedmap.New[string, any]()
		m.Set("address", s.Address)
		m.Set("name", s.Name)
		m.Set("model", s.Profile.Model())
		m.Set("probes", s.Profile.ProbeCount())
		m.Set("rssi", s.RSSI)
		m.Set("connectable", s.Connectable)
		m.Set("seen_at", s.SeenAt.Format(time.RFC3339))
		list = append(list, m)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
