package report

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/jkindrix/leadconcierge/internal/blob"
	"github.com/jkindrix/leadconcierge/internal/domain"
)

// ExportKey is the lead spreadsheet blob.
const ExportKey = "reports/leads.xlsx"

const sheetName = "Leads"

// Columns of the lead spreadsheet.
var Columns = []string{
	"Entry-Date", "Name", "Phone", "Email", "Project", "Last-Contact",
	"Interest-Level", "Status", "Zoom-Scheduled", "Zoom-Details",
}

const phoneColumn = 2

// ExportLeads reads the stored spreadsheet, updates rows in place by phone,
// appends new leads and writes it back. Rows for phones no longer known are
// kept untouched.
func (r *Reporter) ExportLeads(ctx context.Context) (int, error) {
	file, sheet, err := r.openWorkbook(ctx)
	if err != nil {
		return 0, err
	}

	rows := map[string]*xlsx.Row{}
	for i, row := range sheet.Rows {
		if i == 0 || len(row.Cells) <= phoneColumn {
			continue
		}
		rows[row.Cells[phoneColumn].String()] = row
	}

	n := 0
	for _, conv := range r.store.Leads() {
		row, ok := rows[conv.Lead.Phone]
		if !ok {
			row = sheet.AddRow()
		}
		fillRow(row, r.exportValues(conv))
		n++
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return 0, eris.Wrap(err, "report: encode workbook")
	}
	if err := r.blobs.Put(ctx, ExportKey, buf.Bytes()); err != nil {
		return 0, eris.Wrap(err, "report: store workbook")
	}
	return n, nil
}

func (r *Reporter) openWorkbook(ctx context.Context) (*xlsx.File, *xlsx.Sheet, error) {
	data, err := r.blobs.Get(ctx, ExportKey)
	if errors.Is(err, blob.ErrNotFound) {
		return newWorkbook()
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "report: read workbook")
	}

	file, err := xlsx.OpenBinary(data)
	if err != nil {
		r.logger.Warn("stored lead spreadsheet is unreadable, starting a new one")
		return newWorkbook()
	}
	if sheet, ok := file.Sheet[sheetName]; ok {
		return file, sheet, nil
	}
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return nil, nil, eris.Wrap(err, "report: add sheet")
	}
	fillRow(sheet.AddRow(), Columns)
	return file, sheet, nil
}

func newWorkbook() (*xlsx.File, *xlsx.Sheet, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return nil, nil, eris.Wrap(err, "report: add sheet")
	}
	fillRow(sheet.AddRow(), Columns)
	return file, sheet, nil
}

func fillRow(row *xlsx.Row, values []string) {
	for len(row.Cells) < len(values) {
		row.AddCell()
	}
	for i, v := range values {
		row.Cells[i].SetString(v)
	}
}

func (r *Reporter) exportValues(conv *domain.Conversation) []string {
	l := conv.Lead
	status := l.Stage.Spanish()
	if l.Disinterested {
		status = "No interesado"
	}
	zoomScheduled, zoomDetails := "No", ""
	if conv.Zoom != nil {
		zoomScheduled = "Sí"
		zoomDetails = conv.Zoom.Details
	}
	lastContact := ""
	if c := r.lastContact(conv); c != "Sin contacto" {
		lastContact = c
	}
	return []string{
		l.FirstContact.In(r.loc).Format(dateLayout),
		l.Name,
		l.Phone,
		l.Email,
		conv.Project(),
		lastContact,
		strconv.Itoa(l.InterestLevel),
		status,
		zoomScheduled,
		zoomDetails,
	}
}
