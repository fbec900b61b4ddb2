package perspective

import (
	"math"

	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/heapview/internal/snapshot"
)

// StatRecord is one slice of the statistics pane.
type StatRecord struct {
	Title string `json:"title"`
	Bytes int64  `json:"bytes"`
	Label string `json:"label"`
}

// statisticsRecords lays out the statistics pane. Total comes last and is
// not a slice of the chart.
func statisticsRecords(st snapshot.Statistics) []StatRecord {
	records := []StatRecord{
		{Title: "Code", Bytes: st.Code},
		{Title: "Strings", Bytes: st.Strings},
		{Title: "JS Arrays", Bytes: st.JSArrays},
		{Title: "Typed Arrays", Bytes: st.TypedArrays},
		{Title: "System Objects", Bytes: st.System},
		{Title: "Total", Bytes: st.Total},
	}
	for i := range records {
		records[i].Label = kiloBytes(records[i].Bytes)
	}
	return records
}

func kiloBytes(v int64) string {
	return humanize.Comma(int64(math.Round(float64(v)/1024))) + " KB"
}
