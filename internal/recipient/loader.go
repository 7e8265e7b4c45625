package recipient

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"
)

// Column headers, matched case-insensitively.
const (
	ColumnName  = "NAME"
	ColumnEmail = "EMAIL"
	ColumnCity  = "CITY"
)

// FileSource reads recipients from a .csv or .xlsx file.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(ctx context.Context) ([]Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".csv", ".txt":
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, &InputError{Path: s.Path, Reason: "open file", Err: err}
		}
		defer f.Close()
		return readCSV(s.Path, f)
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(s.Path)
		if err != nil {
			return nil, &InputError{Path: s.Path, Reason: "open workbook", Err: err}
		}
		defer f.Close()
		return readWorkbook(s.Path, f)
	default:
		return nil, &InputError{Path: s.Path, Reason: "expected .csv or .xlsx", Err: ErrUnsupportedFormat}
	}
}

// ReadCSV parses a CSV mailing list with a header row.
func ReadCSV(r io.Reader) ([]Recipient, error) {
	return readCSV("", r)
}

// ReadXLSX parses the first sheet of an .xlsx mailing list.
func ReadXLSX(r io.Reader) ([]Recipient, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &InputError{Reason: "open workbook", Err: err}
	}
	defer f.Close()
	return readWorkbook("", f)
}

func readCSV(path string, r io.Reader) ([]Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, &InputError{Path: path, Reason: "parse csv", Err: err}
	}
	return parseRows(path, rows)
}

func readWorkbook(path string, f *excelize.File) ([]Recipient, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &InputError{Path: path, Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &InputError{Path: path, Reason: "read sheet " + sheets[0], Err: err}
	}
	return parseRows(path, rows)
}

var validate = validator.New()

// parseRows maps a header row plus data rows onto recipients.
func parseRows(path string, rows [][]string) ([]Recipient, error) {
	if len(rows) == 0 {
		return nil, &InputError{Path: path, Reason: "no header row", Err: ErrMissingColumn}
	}

	columns := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimPrefix(h, "\ufeff")
		columns[strings.ToUpper(strings.TrimSpace(h))] = i
	}

	nameCol, ok := columns[ColumnName]
	if !ok {
		return nil, &InputError{Path: path, Row: 1, Reason: "column " + ColumnName, Err: ErrMissingColumn}
	}
	emailCol, ok := columns[ColumnEmail]
	if !ok {
		return nil, &InputError{Path: path, Row: 1, Reason: "column " + ColumnEmail, Err: ErrMissingColumn}
	}
	cityCol, hasCity := columns[ColumnCity]

	recipients := make([]Recipient, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2
		if blankRow(row) {
			continue
		}

		rcpt := Recipient{
			Name:  cell(row, nameCol),
			Email: cell(row, emailCol),
			Row:   rowNum,
		}
		if hasCity {
			rcpt.City = normalizeCity(cell(row, cityCol))
		}

		if rcpt.Name == "" {
			return nil, &InputError{Path: path, Row: rowNum, Reason: "blank name", Err: ErrInvalidRow}
		}
		if err := validate.Var(rcpt.Email, "required,email"); err != nil {
			return nil, &InputError{Path: path, Row: rowNum, Reason: "invalid email address", Err: errors.Join(ErrInvalidRow, err)}
		}

		recipients = append(recipients, rcpt)
	}

	return recipients, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// normalizeCity treats the spreadsheet "nan" artefact as a blank cell.
func normalizeCity(city string) string {
	if strings.EqualFold(city, "nan") {
		return ""
	}
	return city
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
