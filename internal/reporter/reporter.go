// Package reporter renders a human-readable summary of the model registry
// and the online learners. It is printed on shutdown and by the -report run
// mode.
package reporter

import (
	"fmt"
	"os"
	"sort"
	"time"

	"hybrid-learning-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// PrintReport writes the registry and learner tables to stdout.
func PrintReport(status models.Status, versions []models.ModelVersion) {
	printOnlineTable(status)
	printBatchTable(status, versions)
	printCollectorTable(status)
}

func printOnlineTable(status models.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Online Learners")
	t.AppendHeader(table.Row{"Kind", "Samples Seen", "Recent Accuracy", "Last Snapshot"})

	kinds := make([]models.OnlineKind, 0, len(status.Online))
	for kind := range status.Online {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		s := status.Online[kind]
		t.AppendRow(table.Row{
			string(kind),
			s.SamplesSeen,
			formatPct(s.RecentAccuracy),
			formatTS(s.LastSnapshotTS),
		})
	}
	t.Render()
}

func printBatchTable(status models.Status, versions []models.ModelVersion) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Model Registry")
	t.AppendHeader(table.Row{"Kind", "Version", "Accuracy", "Trained", "Active"})

	for _, v := range versions {
		active := ""
		if b, ok := status.Batch[v.Kind]; ok && b.ActiveVersion == v.FileID {
			active = "yes"
		}
		t.AppendRow(table.Row{
			string(v.Kind),
			v.FileID,
			formatPct(v.Accuracy),
			formatTS(v.TrainedAt),
			active,
		})
	}
	if len(versions) == 0 {
		t.AppendRow(table.Row{"-", "no versions recorded", "-", "-", "-"})
	}
	t.Render()
}

func printCollectorTable(status models.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Collection")
	t.AppendHeader(table.Row{"Symbol", "Last OK", "Errors (1h)"})

	symbols := make([]string, 0, len(status.Collector.PerSymbol))
	for symbol := range status.Collector.PerSymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		s := status.Collector.PerSymbol[symbol]
		t.AppendRow(table.Row{symbol, formatTS(s.LastOkTS), s.ErrorsLastHour})
	}
	t.AppendFooter(table.Row{"buffer", status.Buffer.Size, status.Buffer.DroppedTotal})
	t.Render()
}

func formatPct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func formatTS(ts int64) string {
	if ts == 0 {
		return "never"
	}
	return time.UnixMilli(ts).Format("2006-01-02 15:04:05")
}
