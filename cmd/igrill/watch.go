package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/igrill/internal/discovery"
	"github.com/srg/igrill/internal/groutine"
	"github.com/srg/igrill/internal/history"
	"github.com/srg/igrill/internal/snapshot"
	"github.com/srg/igrill/pkg/igrill"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// watchCmd keeps thermometers up to date and prints every change
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live readings",
	Long: `Keep the thermometers up to date and print every reading change until
interrupted. In notify mode the connection stays open and probe values are
pushed by the device; in active mode each poll connects, reads and
disconnects again.

With --discover, thermometers found by a background scan are registered
and polled automatically. When history_path is set in the configuration
every reading is also stored in that SQLite database.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchDevices  deviceFlags
	watchFormat   string
	watchTick     time.Duration
	watchDuration time.Duration
	watchDiscover bool
)

const (
	watchFeedCapacity  = 64
	historyQueueLength = 256
)

func init() {
	watchDevices.register(watchCmd)
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "text", "Output format (text, json)")
	watchCmd.Flags().DurationVar(&watchTick, "tick", time.Second, "How often to check for due polls")
	watchCmd.Flags().DurationVarP(&watchDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	watchCmd.Flags().BoolVar(&watchDiscover, "discover", false, "Register thermometers found by scanning")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if watchFormat != "text" && watchFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", watchFormat)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// A long running watch logs at the configured level unless told otherwise
	logger, err := configureLogger(cmd, cfg.NewLogger())
	if err != nil {
		return err
	}

	devs, err := watchDevices.devices(cfg)
	if errors.Is(err, ErrNoDevices) && watchDiscover {
		devs, err = nil, nil
	}
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	opts := igrill.Options{
		AutoRegister: watchDiscover,
		OnError: func(address string, err error) {
			logger.WithField("address", address).WithError(err).Warn("Poll failed")
		},
	}
	m, transport, err := newManager(cfg, devs, opts, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	var rec *history.Recorder
	if cfg.HistoryPath != "" {
		rec, err = history.Open(cfg.HistoryPath, historyQueueLength, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close history")
			}
		}()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if watchDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, watchDuration)
		defer cancel()
	}

	var scanner *discovery.Scanner
	if watchDiscover {
		dev, err := transport.Scanner()
		if err != nil {
			return fmt.Errorf("failed to create BLE scanner: %w", err)
		}
		scanner = discovery.NewScanner(dev, logger)
	}

	feed, stop := m.Store().Watch(watchFeedCapacity)
	defer stop()

	workers := []<-chan struct{}{
		spawn(ctx, "igrill-run", func(ctx context.Context) { _ = m.Run(ctx, watchTick) }),
	}
	if scanner != nil {
		workers = append(workers, startDiscovery(ctx, m, scanner, logger)...)
	}

	var record snapshot.Listener
	if rec != nil {
		record = rec.Listener()
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			for _, done := range workers {
				<-done
			}
			return nil
		case u, ok := <-feed:
			if !ok {
				return nil
			}
			if record != nil {
				record(u)
			}
			if err := printUpdate(out, watchFormat, u); err != nil {
				return err
			}
		}
	}
}

// spawn runs fn in a named goroutine and returns a channel closed when it
// returns.
func spawn(ctx context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	groutine.Go(ctx, name, func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	})
	return done
}

// startDiscovery scans until ctx is done and hands every sighting to m.
func startDiscovery(ctx context.Context, m *igrill.Manager, s *discovery.Scanner, logger *logrus.Logger) []<-chan struct{} {
	events := s.Events()
	scan := spawn(ctx, "igrill-discovery", func(ctx context.Context) {
		if _, err := s.Scan(ctx, &discovery.ScanOptions{Duration: 0, DuplicateFilter: false}); err != nil {
			logger.WithError(err).Error("Discovery scan failed")
		}
	})
	sightings := spawn(ctx, "igrill-sightings", func(ctx context.Context) {
		for ev := range events {
			polled, err := m.HandleSighting(ctx, ev.Sighting)
			if err != nil {
				logger.WithField("address", ev.Sighting.Address).WithError(err).Debug("Sighting not polled")
				continue
			}
			if polled {
				logger.WithField("address", ev.Sighting.Address).Debug("Polled on sighting")
			}
		}
	})
	return []<-chan struct{}{scan, sightings}
}

// changedKeys returns the keys an update wrote, in lexical order.
func changedKeys(u snapshot.Update) []string {
	keys := slices.Clone(u.Keys)
	slices.Sort(keys)
	return keys
}

func printUpdate(out io.Writer, format string, u snapshot.Update) error {
	at := u.Snapshot.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	if format == "json" {
		line := orderedmap.New[string, any]()
		line.Set("time", at.Format(time.RFC3339))
		line.Set("address", u.DeviceID)
		line.Set("kind", u.Kind.String())
		line.Set("available", u.Snapshot.Available)
		values := orderedmap.New[string, float64]()
		for _, k := range changedKeys(u) {
			if r, ok := u.Snapshot.Get(k); ok {
				values.Set(k, r.Value)
			}
		}
		line.Set("readings", values)
		return json.NewEncoder(out).Encode(line)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s", at.Format(time.TimeOnly), u.DeviceID)
	switch u.Kind {
	case snapshot.KindAvailability:
		if u.Snapshot.Available {
			b.WriteString("  available")
		} else {
			b.WriteString("  unavailable")
		}
	case snapshot.KindInfo:
		fmt.Fprintf(&b, "  %s", strings.TrimSpace(u.Snapshot.Info.Model+" "+u.Snapshot.Info.FirmwareVersion))
	default:
		for _, k := range changedKeys(u) {
			if r, ok := u.Snapshot.Get(k); ok {
				fmt.Fprintf(&b, "  %s=%s", k, formatValue(r))
			}
		}
	}
	_, err := fmt.Fprintln(out, b.String())
	return err
}
