// Package export writes the record collection to an xlsx workbook and reads
// it back. The data sheet holds one row per record in Columns order under a
// styled, frozen header; chart sheets plot favorite column groups.
package export

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/vesaa/ipslamon/internal/models"
	"github.com/vesaa/ipslamon/internal/store"
)

// DefaultSheet is the data sheet name used when none is configured.
const DefaultSheet = "IP_SLA_Data"

const headerColor = "4472C4"

var thinBorder = []excelize.Border{
	{Type: "left", Color: "000000", Style: 1},
	{Type: "right", Color: "000000", Style: 1},
	{Type: "top", Color: "000000", Style: 1},
	{Type: "bottom", Color: "000000", Style: 1},
}

// Build returns a new workbook whose only sheet, named sheet, holds coll.
// The caller owns the file and must Close it.
func Build(sheet string, coll store.Collection) (*excelize.File, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeHeader(f, sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if err := writeRows(f, sheet, coll); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing rows: %w", err)
	}
	return f, nil
}

// WriteWorkbook saves coll as a fresh workbook at path, replacing any
// existing file.
func WriteWorkbook(path, sheet string, coll store.Collection) error {
	f, err := Build(sheet, coll)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string) error {
	header := make([]any, len(models.Columns))
	for i, c := range models.Columns {
		header[i] = c.Name
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{headerColor}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    thinBorder,
	})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(models.Columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}

	for i, c := range models.Columns {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, c.Width); err != nil {
			return err
		}
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeRows(f *excelize.File, sheet string, coll store.Collection) error {
	if len(coll) == 0 {
		return nil
	}
	for i := range coll {
		row := coll[i].Values()
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	style, err := f.NewStyle(&excelize.Style{Border: thinBorder})
	if err != nil {
		return err
	}
	timeStyle, err := f.NewStyle(&excelize.Style{
		Border:    thinBorder,
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	lastRow := len(coll) + 1
	last, err := excelize.CoordinatesToCellName(len(models.Columns), lastRow)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "B2", last, style); err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A2", fmt.Sprintf("A%d", lastRow), timeStyle)
}

// ReadWorkbook parses the data sheet of the workbook at path. Empty cells are
// missing values. Rows that do not parse are skipped and reported in the
// joined error alongside the records that did.
func ReadWorkbook(path, sheet string) ([]models.Record, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%s: sheet %q not found", path, sheet)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	order, err := headerOrder(rows[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var (
		recs []models.Record
		errs []error
	)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		cells := make([]string, len(models.Columns))
		for src, dst := range order {
			if dst >= 0 && src < len(row) {
				cells[dst] = row[src]
			}
		}
		cells[0] = dateCell(cells[0])
		rec, err := models.RecordFromRow(cells)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i+2, err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errors.Join(errs...)
}

// headerOrder maps each sheet column to its position in models.Columns, or
// -1 for a column this schema does not know. Workbooks written before the
// latency columns existed therefore still import.
func headerOrder(header []string) ([]int, error) {
	order := make([]int, len(header))
	found := make(map[int]bool, len(header))
	for i, name := range header {
		order[i] = models.ColumnIndex(strings.TrimSpace(name))
		found[order[i]] = true
	}
	for i, c := range models.Columns {
		if c.Required && !found[i] {
			return nil, fmt.Errorf("header has no %s column", c.Name)
		}
	}
	return order, nil
}

// dateCell rewrites a StartTime stored as an Excel date serial into the
// text layout RecordFromRow expects.
func dateCell(s string) string {
	serial, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return s
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return s
	}
	return t.Round(time.Second).Format(models.TimeLayout)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
