// Package report renders sync sessions as spreadsheets.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"stock-sync/internal/models"
)

const (
	SummarySheet = "Summary"
	DetailsSheet = "Details"
)

// ContentType is the MIME type of the generated workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var detailHeaders = []interface{}{
	"Platform", "Barcode", "Status", "Quantity Sent", "Error", "Sent At", "Response At", "Raw Response",
}

// WriteSession writes a workbook with a summary sheet and a details sheet
func WriteSession(w io.Writer, session *models.SyncSession, summary *models.SessionSummary, details []models.SyncDetail) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(DetailsSheet); err != nil {
		return fmt.Errorf("failed to create details sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	if err := writeSummary(f, session, summary, bold); err != nil {
		return err
	}
	if err := writeDetails(f, details, bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, session *models.SyncSession, summary *models.SessionSummary, bold int) error {
	finished := ""
	if session.FinishedAt != nil {
		finished = session.FinishedAt.Format(time.RFC3339)
	}

	rows := [][]interface{}{
		{"Session", session.ID},
		{"Platform", session.Platform},
		{"Status", string(session.Status)},
		{"Triggered By", string(session.TriggeredBy)},
		{"User", session.TriggeredByUser},
		{"Started At", session.StartedAt.Format(time.RFC3339)},
		{"Finished At", finished},
		{"Duration (s)", session.DurationSeconds},
		{"Total Items", session.TotalItems},
		{"Success", session.SuccessCount},
		{"Errors", session.ErrorCount},
		{"Success Rate (%)", summary.SuccessRate},
		{"Skipped", summary.Skipped},
		{"Error Message", session.ErrorMessage},
	}
	for i, row := range rows {
		if err := setRow(f, SummarySheet, i+1, row); err != nil {
			return err
		}
	}

	start := len(rows) + 3
	if err := setRow(f, SummarySheet, start, []interface{}{"Platform", "Total", "Success", "Errors", "Skipped"}); err != nil {
		return err
	}
	if err := styleRow(f, SummarySheet, start, 5, bold); err != nil {
		return err
	}

	platforms := make([]string, 0, len(summary.PerPlatform))
	for p := range summary.PerPlatform {
		platforms = append(platforms, string(p))
	}
	sort.Strings(platforms)
	for i, p := range platforms {
		ps := summary.PerPlatform[models.Platform(p)]
		row := []interface{}{p, ps.TotalItems, ps.SuccessCount, ps.ErrorCount, ps.Skipped}
		if err := setRow(f, SummarySheet, start+1+i, row); err != nil {
			return err
		}
	}

	return f.SetColWidth(SummarySheet, "A", "B", 24)
}

func writeDetails(f *excelize.File, details []models.SyncDetail, bold int) error {
	if err := setRow(f, DetailsSheet, 1, detailHeaders); err != nil {
		return err
	}
	if err := styleRow(f, DetailsSheet, 1, len(detailHeaders), bold); err != nil {
		return err
	}

	for i, d := range details {
		row := []interface{}{
			string(d.Platform),
			d.Barcode,
			string(d.Status),
			d.QuantitySent,
			d.ErrorMessage,
			d.SentAt.Format(time.RFC3339),
			d.ResponseAt.Format(time.RFC3339),
			d.RawResponse,
		}
		if err := setRow(f, DetailsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetPanes(DetailsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	return f.SetColWidth(DetailsSheet, "A", "E", 18)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, row, cols, style int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}
