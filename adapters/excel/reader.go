package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/internal"
)

// DataReader reads dwell-time samples from Excel or CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
	logger   *internal.Logger
}

// NewDataReader creates a reader; the file type follows the extension
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{
		filePath: filePath,
		fileType: fileType,
		sheet:    "Sheet1",
		logger:   internal.DefaultLogger.WithComponent("DataReader"),
	}
}

// WithSheet selects the worksheet of an Excel file
func (r *DataReader) WithSheet(sheet string) *DataReader {
	r.sheet = sheet
	return r
}

// ReadSample returns the dwell times in the named column. An empty column
// name takes the first column. The first row is always the header.
func (r *DataReader) ReadSample(column string) ([]float64, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var (
		rows [][]string
		err  error
	)
	start := time.Now()
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("%s read in %.2fms (%d rows)", r.filePath, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	return extractColumn(rows, column)
}

func (r *DataReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.sheet, err)
	}
	return rows, nil
}

func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// extractColumn parses one column of rows below the header. Blank cells are skipped.
func extractColumn(rows [][]string, column string) ([]float64, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: file must have a header row and at least one data row", core.ErrInsufficientData)
	}

	col := 0
	if column != "" {
		col = -1
		for i, h := range rows[0] {
			if strings.EqualFold(strings.TrimSpace(h), column) {
				col = i
				break
			}
		}
		if col < 0 {
			return nil, core.NewInputError("column", fmt.Sprintf("%q not found in header %v", column, rows[0]))
		}
	}

	sample := make([]float64, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %q is not a number", core.ErrInvalidSample, i+2, cell)
		}
		sample = append(sample, v)
	}
	return sample, nil
}

// WriteSample writes dwell times to a single-column Excel sheet with the
// given header.
func WriteSample(path, header string, sample []float64) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	if err := f.SetCellValue(sheet, "A1", header); err != nil {
		return err
	}
	for i, v := range sample {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
