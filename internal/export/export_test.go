package export

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vesaa/ipslamon/internal/models"
	"github.com/vesaa/ipslamon/internal/store"
)

func at(hour int) time.Time {
	return time.Date(2026, time.January, 28, hour, 28, 16, 0, time.UTC)
}

func sampleCollection() store.Collection {
	return store.Sorted([]models.Record{
		{
			StartTime: at(10), MinMOS: 2.8, MaxMOS: 4.34,
			NumRTT: models.Int(60000), RTTMinMs: 9, RTTAvgMs: 98, RTTMaxMs: 1800,
			RTTOverThresholdCount: models.Int(4021), RTTOverThresholdPct: models.Float(6),
			LossSD: models.Int(3), LossDS: models.Int(17),
		},
		{
			StartTime: at(9), MinMOS: 1.51, MaxMOS: 4.34,
			MinICPIF: models.Int(1), MaxICPIF: models.Int(77),
			RTTMinMs: 8, RTTAvgMs: 120, RTTMaxMs: 2332,
			LatencySDAvgMs: models.Int(0), JitterSDAvgMs: models.Int(5),
			LossSD: models.Int(0), Successes: models.Int(60), Failures: models.Int(1),
		},
		{StartTime: at(11), MinMOS: 3, MaxMOS: 4, RTTMinMs: 1, RTTAvgMs: 2, RTTMaxMs: 3},
	})
}

func TestWorkbookRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	coll := sampleCollection()
	require.NoError(t, WriteWorkbook(path, "", coll))

	recs, err := ReadWorkbook(path, DefaultSheet)
	require.NoError(t, err)
	assert.Equal(t, []models.Record(coll), recs)
}

func TestBuildLayout(t *testing.T) {
	f, err := Build("Data", sampleCollection())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Data"}, f.GetSheetList())
	v, err := f.GetCellValue("Data", "A1")
	require.NoError(t, err)
	assert.Equal(t, "StartTime", v)
	v, err = f.GetCellValue("Data", "A2")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-28 09:28:16", v, "rows are sorted")

	panes, err := f.GetPanes("Data")
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, "A2", panes.TopLeftCell)

	w, err := f.GetColWidth("Data", "A")
	require.NoError(t, err)
	assert.Equal(t, 20.0, w)
}

func TestReadWorkbookByHeaderName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"StartTime", "MinMOS", "MaxMOS", "RTT_Min_ms", "RTT_Avg_ms", "RTT_Max_ms", "Notes", "Loss_DS"},
		{"2026-01-28 09:28:16", 1.5, 4.2, 3, 4, 5, "ignored", 7},
		{},
		{"2026-01-28 10:28:16", "oops", 4.2, 3, 4, 5},
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &rows[i]))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	recs, err := ReadWorkbook(path, sheet)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(5), recs[0].RTTMaxMs)
	require.NotNil(t, recs[0].LossDS)
	assert.Equal(t, int64(7), *recs[0].LossDS)
	assert.Nil(t, recs[0].LossSD)
	assert.ErrorContains(t, err, "row 4: column MinMOS")
}

func TestReadWorkbookErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteWorkbook(path, "", sampleCollection()))

	_, err := ReadWorkbook(path, "Missing")
	assert.ErrorContains(t, err, `sheet "Missing" not found`)

	_, err = ReadWorkbook(filepath.Join(t.TempDir(), "absent.xlsx"), "")
	assert.Error(t, err)
}

func TestDateCell(t *testing.T) {
	assert.Equal(t, "2026-01-28 09:28:16", dateCell("2026-01-28 09:28:16"))
	epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
	serial := float64(at(9).Sub(epoch)) / float64(24*time.Hour)
	assert.Equal(t, "2026-01-28 09:28:16", dateCell(strconv.FormatFloat(serial, 'f', -1, 64)))
}

func TestAddFavoriteCharts(t *testing.T) {
	coll := sampleCollection()
	f, err := Build("", coll)
	require.NoError(t, err)
	defer f.Close()

	created, err := AddFavoriteCharts(f, "", coll, at(10), time.Time{})
	require.NoError(t, err)
	require.Len(t, created, len(Favorites))
	assert.Equal(t, "Chart_RTT_Avg_Max", created[0])
	assert.Contains(t, f.GetSheetList(), "Chart_MOS_Score")

	v, err := f.GetCellValue("Chart_Jitter", "P2")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-28 10:28:16", v)
	v, err = f.GetCellValue("Chart_Jitter", "P3")
	require.NoError(t, err)
	assert.Equal(t, "All", v)

	// Rebuilding replaces the existing sheets.
	created, err = AddFavoriteCharts(f, "", coll, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, created, len(Favorites))
	assert.Len(t, f.GetSheetList(), 1+len(Favorites))

	require.NoError(t, f.SaveAs(filepath.Join(t.TempDir(), "charts.xlsx")))
}

func TestAddFavoriteChartsEmptyWindow(t *testing.T) {
	coll := sampleCollection()
	f, err := Build("", coll)
	require.NoError(t, err)
	defer f.Close()

	created, err := AddFavoriteCharts(f, "", coll, at(20), at(21))
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, f.GetSheetList(), 1)
}

func TestFavoriteSeries(t *testing.T) {
	fav, ok := FavoriteByName("packet_loss")
	require.True(t, ok)

	s := fav.Series(sampleCollection(), at(9), at(10))
	assert.Equal(t, []string{"2026-01-28 09:28:16", "2026-01-28 10:28:16"}, s.Times)
	require.Len(t, s.Values, 4)
	assert.Equal(t, []any{int64(0), int64(3)}, s.Values[0], "Loss_SD")
	assert.Equal(t, []any{nil, int64(17)}, s.Values[1], "Loss_DS")

	_, ok = FavoriteByName("nope")
	assert.False(t, ok)
}

func TestFavoriteColumnsExist(t *testing.T) {
	for _, fav := range Favorites {
		for _, col := range fav.Columns {
			assert.GreaterOrEqual(t, models.ColumnIndex(col), 0, "%s: %s", fav.Name, col)
		}
	}
}
