package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/igrill/internal/history"
	grill "github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/snapshot"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"text", "json", "yaml"}

func validateFormat(format string) error {
	if !slices.Contains(outputFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, outputFormats)
	}
	return nil
}

// document is one device rendered for output, fields in display order.
type document = orderedmap.OrderedMap[string, any]

// orderedKeys returns the profile's reading keys followed by any other keys
// present in snap.
func orderedKeys(p grill.Profile, snap snapshot.Snapshot) []string {
	keys := grill.ReadingKeys(p)
	for _, k := range snap.Keys() {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

func newDocument(p grill.Profile, snap snapshot.Snapshot, pollErr error) *document {
	doc := orderedmap.New[string, any]()
	doc.Set("address", snap.Info.Address)
	doc.Set("name", snap.Info.Name)
	doc.Set("manufacturer", snap.Info.Manufacturer)
	doc.Set("model", snap.Info.Model)
	if snap.Info.FirmwareVersion != "" {
		doc.Set("firmware_version", snap.Info.FirmwareVersion)
	}
	doc.Set("available", snap.Available)
	if !snap.UpdatedAt.IsZero() {
		doc.Set("updated_at", snap.UpdatedAt.Format(time.RFC3339))
	}

	readings := orderedmap.New[string, any]()
	for _, k := range orderedKeys(p, snap) {
		r, ok := snap.Get(k)
		if !ok {
			continue
		}
		v := orderedmap.New[string, any]()
		v.Set("value", r.Value)
		v.Set("unit", r.Unit)
		readings.Set(k, v)
	}
	doc.Set("readings", readings)

	if pollErr != nil {
		doc.Set("error", pollErr.Error())
	}
	return doc
}

func formatValue(r snapshot.Reading) string {
	if r.Unit == grill.UnitPercent {
		return fmt.Sprintf("%.0f %s", r.Value, r.Unit)
	}
	return fmt.Sprintf("%.1f %s", r.Value, r.Unit)
}

func newSampleDocument(s history.Sample) *document {
	doc := orderedmap.New[string, any]()
	doc.Set("address", s.DeviceID)
	doc.Set("key", s.Key)
	doc.Set("value", s.Value)
	doc.Set("unit", s.Unit)
	doc.Set("recorded_at", s.RecordedAt.Format(time.RFC3339))
	return doc
}

func formatSample(s history.Sample) string {
	return formatValue(snapshot.Reading{Value: s.Value, Unit: s.Unit})
}

// printDocuments writes docs in format: json and yaml as a list, text as one
// block per device.
func printDocuments(out io.Writer, format string, docs []*document) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return err
		}
		return enc.Close()
	default:
		for _, d := range docs {
			if err := printDocumentText(out, d); err != nil {
				return err
			}
		}
		return nil
	}
}

func printDocumentText(out io.Writer, doc *document) error {
	name, _ := doc.Get("name")
	addr, _ := doc.Get("address")
	title := color.New(color.Bold)
	if _, err := title.Fprintf(out, "%s  %s", name, addr); err != nil {
		return err
	}
	if fw, ok := doc.Get("firmware_version"); ok {
		fmt.Fprintf(out, "  firmware %s", fw)
	}
	if avail, _ := doc.Get("available"); avail != true {
		fmt.Fprint(out, "  (unavailable)")
	}
	fmt.Fprintln(out)

	if msg, ok := doc.Get("error"); ok {
		color.New(color.FgRed).Fprintf(out, "  error: %s\n", msg)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	readings, _ := doc.Get("readings")
	for pair := readings.(*document).Oldest(); pair != nil; pair = pair.Next() {
		v := pair.Value.(*document)
		value, _ := v.Get("value")
		unit, _ := v.Get("unit")
		fmt.Fprintf(w, "  %s\t%s\n", pair.Key, formatValue(snapshot.Reading{Value: value.(float64), Unit: unit.(string)}))
	}
	return w.Flush()
}
