package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/vesaa/ipslamon/internal/models"
	"github.com/vesaa/ipslamon/internal/store"
)

// ChartSheetPrefix prefixes the name of every generated chart sheet.
const ChartSheetPrefix = "Chart_"

// Favorite is a predefined line chart over a group of columns.
type Favorite struct {
	Name    string   `json:"name"`
	Title   string   `json:"title"`
	YLabel  string   `json:"y_label"`
	Columns []string `json:"columns"`
}

// Favorites are the charts built by AddFavoriteCharts, in sheet order.
var Favorites = []Favorite{
	{Name: "RTT_Avg_Max", Title: "RTT Average/Max Over Time", YLabel: "RTT (ms)",
		Columns: []string{"RTT_Avg_ms", "RTT_Max_ms"}},
	{Name: "Packet_Loss", Title: "Packet Loss Per Interval", YLabel: "Packet Count",
		Columns: []string{"Loss_SD", "Loss_DS", "Packet_Late_Arrival", "TailDrop"}},
	{Name: "Jitter", Title: "Jitter Over Time", YLabel: "Jitter (ms)",
		Columns: []string{"Jitter_SD_Avg_ms", "Jitter_SD_Max_ms", "Jitter_DS_Avg_ms", "Jitter_DS_Max_ms"}},
	{Name: "MOS_Score", Title: "MOS Score Over Time", YLabel: "MOS Score",
		Columns: []string{"MinMOS", "MaxMOS"}},
	{Name: "RTT_Threshold", Title: "RTT Over Threshold", YLabel: "Count / Percentage",
		Columns: []string{"RTT_Over_Threshold_Count", "RTT_Over_Threshold_Pct"}},
}

// FavoriteByName looks up a favorite chart.
func FavoriteByName(name string) (Favorite, bool) {
	for _, fav := range Favorites {
		if strings.EqualFold(fav.Name, name) {
			return fav, true
		}
	}
	return Favorite{}, false
}

// Series is the data behind one favorite over a time window.
type Series struct {
	Favorite
	Times []string `json:"times"`
	// Values holds one column per Favorite.Columns entry; missing values are nil.
	Values [][]any `json:"values"`
}

// Series extracts fav's columns from the records of coll within [from, to].
func (fav Favorite) Series(coll store.Collection, from, to time.Time) Series {
	window := coll.Range(from, to)
	s := Series{
		Favorite: fav,
		Times:    make([]string, len(window)),
		Values:   make([][]any, len(fav.Columns)),
	}
	for i := range s.Values {
		s.Values[i] = make([]any, len(window))
	}
	for i := range window {
		s.Times[i] = window[i].StartTime.Format(models.TimeLayout)
		for j, col := range fav.Columns {
			s.Values[j][i] = window[i].Value(col)
		}
	}
	return s
}

// AddFavoriteCharts adds one line chart sheet per favorite to f, plotting
// the rows of sheet whose StartTime lies in [from, to]. sheet must hold coll
// as written by Build. Existing chart sheets of the same name are replaced.
// It returns the created sheet names, none when the window is empty.
func AddFavoriteCharts(f *excelize.File, sheet string, coll store.Collection, from, to time.Time) ([]string, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	window := coll.Range(from, to)
	if len(window) == 0 {
		return nil, nil
	}
	// coll is sorted, so the window is a contiguous run of sheet rows.
	first := len(coll) - len(coll.Range(from, time.Time{})) + 2
	last := first + len(window) - 1

	var created []string
	for _, fav := range Favorites {
		name := ChartSheetPrefix + fav.Name
		if err := addChartSheet(f, sheet, name, fav, first, last, from, to); err != nil {
			return created, fmt.Errorf("chart %s: %w", fav.Name, err)
		}
		created = append(created, name)
	}
	return created, nil
}

func addChartSheet(f *excelize.File, data, name string, fav Favorite, first, last int, from, to time.Time) error {
	if idx, err := f.GetSheetIndex(name); err == nil && idx >= 0 {
		if err := f.DeleteSheet(name); err != nil {
			return err
		}
	}
	if _, err := f.NewSheet(name); err != nil {
		return err
	}

	series := make([]excelize.ChartSeries, 0, len(fav.Columns))
	for _, col := range fav.Columns {
		letter, err := excelize.ColumnNumberToName(models.ColumnIndex(col) + 1)
		if err != nil {
			return err
		}
		series = append(series, excelize.ChartSeries{
			Name:       fmt.Sprintf("'%s'!$%s$1", data, letter),
			Categories: fmt.Sprintf("'%s'!$A$%d:$A$%d", data, first, last),
			Values:     fmt.Sprintf("'%s'!$%s$%d:$%s$%d", data, letter, first, letter, last),
			Line:       excelize.ChartLine{Width: 1.5},
		})
	}

	if err := f.AddChart(name, "A1", &excelize.Chart{
		Type:      excelize.Line,
		Series:    series,
		Title:     []excelize.RichTextRun{{Text: fav.Title}},
		Legend:    excelize.ChartLegend{Position: "bottom"},
		XAxis:     excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: "Time"}}},
		YAxis:     excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: fav.YLabel}}},
		Dimension: excelize.ChartDimension{Width: 960, Height: 540},
	}); err != nil {
		return err
	}

	info := [][2]any{
		{"Chart Info", nil},
		{"Start Date:", bound(from)},
		{"End Date:", bound(to)},
		{"Columns:", strings.Join(fav.Columns, ", ")},
	}
	for i, kv := range info {
		row := []any{kv[0], kv[1]}
		if err := f.SetSheetRow(name, fmt.Sprintf("O%d", i+1), &row); err != nil {
			return err
		}
	}
	return nil
}

func bound(t time.Time) string {
	if t.IsZero() {
		return "All"
	}
	return t.Format(models.TimeLayout)
}
