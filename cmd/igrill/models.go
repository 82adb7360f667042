package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/igrill/internal/igrill"
)

// modelsCmd lists the supported thermometer models
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List supported thermometer models",
	Long: `List every supported model with its tag, probe count and optional
capabilities. The tag (or one of its aliases) is what --model and the
devices section of the configuration expect.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printModels(cmd.OutOrStdout())
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func printModels(out io.Writer) error {
	rows := make([][]string, 0, len(igrill.Profiles()))
	for _, p := range igrill.Profiles() {
		aliases := igrill.Tags(p.Model())[1:]
		rows = append(rows, []string{
			string(p.Model()),
			p.DisplayName(),
			fmt.Sprint(p.ProbeCount()),
			yesNo(p.HasBattery()),
			yesNo(p.HasHeatingElement()),
			yesNo(p.HasPropane()),
			yesNo(p.HasLEDKnob()),
			strings.Join(aliases, ","),
		})
	}
	return printTable(out, []string{"MODEL", "NAME", "PROBES", "BATTERY", "HEATING", "PROPANE", "LED", "ALIASES"}, rows)
}

// printTable renders rows in aligned columns with a highlighted header.
func printTable(out io.Writer, header []string, rows [][]string) error {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Colour after alignment so escape codes don't skew the column widths
	lines := strings.SplitAfter(buf.String(), "\n")
	head := color.New(color.Bold, color.FgCyan)
	if _, err := head.Fprint(out, strings.TrimSuffix(lines[0], "\n")); err != nil {
		return err
	}
	_, err := fmt.Fprint(out, "\n"+strings.Join(lines[1:], ""))
	return err
}
