package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/igrill/internal/history"
)

// historyCmd prints readings recorded by watch
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded readings",
	Long: `Show readings recorded by 'igrill watch' in the history database.

Without --key the latest value of every reading is shown; with --key all
values of that reading recorded within --since are listed, oldest first.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyAddress string
	historyKey     string
	historySince   time.Duration
	historyDB      string
	historyFormat  string
)

func init() {
	historyCmd.Flags().StringVarP(&historyAddress, "address", "a", "", "Device address")
	historyCmd.Flags().StringVarP(&historyKey, "key", "k", "", "Reading key, e.g. probe_1")
	historyCmd.Flags().DurationVar(&historySince, "since", time.Hour, "How far back to list values of --key")
	historyCmd.Flags().StringVar(&historyDB, "db", "", "History database (defaults to history_path)")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "Output format (text, json, yaml)")
	_ = historyCmd.MarkFlagRequired("address")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(historyFormat); err != nil {
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
	path := historyDB
	if path == "" {
		path = cfg.HistoryPath
	}
	if path == "" {
		return ErrNoHistory
	}

	cmd.SilenceUsage = true

	rec, err := history.Open(path, 1, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rec.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	address := strings.ToUpper(strings.TrimSpace(historyAddress))
	var samples []history.Sample
	if historyKey == "" {
		samples, err = rec.Latest(ctx, address)
	} else {
		samples, err = rec.Range(ctx, address, historyKey, time.Now().Add(-historySince))
	}
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	out := cmd.OutOrStdout()
	switch historyFormat {
	case "json", "yaml":
		docs := make([]*document, 0, len(samples))
		for _, s := range samples {
			docs = append(docs, newSampleDocument(s))
		}
		return printDocuments(out, historyFormat, docs)
	}

	if len(samples) == 0 {
		_, err := fmt.Fprintf(out, "No readings recorded for %s\n", address)
		return err
	}
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			s.RecordedAt.Format(time.DateTime),
			s.Key,
			formatSample(s),
		})
	}
	return printTable(out, []string{"TIME", "KEY", "VALUE"}, rows)
}
