package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/athenasql/athenasql/internal/query"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatCSV, FormatXLSX, FormatParquet:
		return Format(raw), nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func (f Format) Extension() string {
	return string(f)
}

// Encode serializes a result set with the column names as the first row
// and one row per record.
func Encode(format Format, result query.Result) ([]byte, error) {
	switch format {
	case FormatCSV:
		return encodeCSV(result)
	case FormatXLSX:
		return encodeXLSX(result)
	case FormatParquet:
		return encodeParquet(result)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func encodeCSV(result query.Result) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := csv.NewWriter(buf)
	if err := writer.Write(result.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(result.Columns))
	for i, row := range result.Rows {
		for j := range record {
			record[j] = ""
			if j < len(row) {
				record[j] = cellText(row[j])
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

const xlsxSheet = "Results"

func encodeXLSX(result query.Result) ([]byte, error) {
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	if err := file.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("name xlsx sheet: %w", err)
	}
	header := make([]any, len(result.Columns))
	for i, column := range result.Columns {
		header[i] = column
	}
	if err := file.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}
	for i, row := range result.Rows {
		values := make([]any, len(result.Columns))
		for j := range values {
			if j < len(row) {
				values[j] = xlsxValue(row[j])
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("xlsx cell for row %d: %w", i+1, err)
		}
		if err := file.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", i+1, err)
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx workbook: %w", err)
	}
	return buf.Bytes(), nil
}

type parquetRow struct {
	RowNumber int64  `parquet:"row_number"`
	RowJSON   string `parquet:"row_json"`
}

func encodeParquet(result query.Result) ([]byte, error) {
	rows := make([]parquetRow, 0, len(result.Rows))
	for i, row := range result.Rows {
		object := make(map[string]any, len(result.Columns))
		for j, column := range result.Columns {
			var value any
			if j < len(row) {
				value = jsonValue(row[j])
			}
			object[column] = value
		}
		rowJSON, err := json.Marshal(object)
		if err != nil {
			return nil, fmt.Errorf("marshal parquet row %d: %w", i+1, err)
		}
		rows = append(rows, parquetRow{RowNumber: int64(i + 1), RowJSON: string(rowJSON)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func cellText(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}

func xlsxValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool, string:
		return typed
	default:
		return cellText(typed)
	}
}

func jsonValue(value any) any {
	switch typed := value.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return typed
	default:
		return cellText(typed)
	}
}
