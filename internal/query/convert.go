package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
)

// ConversionFault reports a single cell that has no text form.
type ConversionFault struct {
	Type   string
	Reason string
}

func (f *ConversionFault) Error() string {
	return fmt.Sprintf("cannot convert %s to text: %s", f.Type, f.Reason)
}

// ConvertCell renders one scanned value as text.
func ConvertCell(value any) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			text = ""
			err = &ConversionFault{Type: fmt.Sprintf("%T", value), Reason: fmt.Sprint(recovered)}
		}
	}()

	switch typed := value.(type) {
	case nil:
		return "", nil
	case string:
		return typed, nil
	case []byte:
		if !utf8.Valid(typed) {
			return "", &ConversionFault{Type: "[]byte", Reason: "binary value is not valid UTF-8"}
		}
		return string(typed), nil
	case bool:
		return strconv.FormatBool(typed), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	case int32:
		return strconv.FormatInt(int64(typed), 10), nil
	case int:
		return strconv.Itoa(typed), nil
	case uint64:
		return strconv.FormatUint(typed, 10), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), nil
	case time.Time:
		return typed.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return typed.String(), nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", &ConversionFault{Type: fmt.Sprintf("%T", value), Reason: err.Error()}
	}
	return string(encoded), nil
}

// ConvertColumnCell is ConvertCell aware of the column's database type. Drivers hand 16-byte
// identifiers back as raw bytes; UNIQUEIDENTIFIER keeps SQL Server's mixed-endian layout.
func ConvertColumnCell(dbType string, value any) (string, error) {
	raw, ok := value.([]byte)
	if !ok || len(raw) != 16 {
		return ConvertCell(value)
	}
	switch strings.ToUpper(dbType) {
	case "UUID":
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return "", &ConversionFault{Type: "UUID", Reason: err.Error()}
		}
		return id.String(), nil
	case "UNIQUEIDENTIFIER":
		var id mssql.UniqueIdentifier
		if err := id.Scan(raw); err != nil {
			return "", &ConversionFault{Type: "UNIQUEIDENTIFIER", Reason: err.Error()}
		}
		return id.String(), nil
	}
	return ConvertCell(value)
}

// CellText is ConvertCell with the sentinel substituted on failure.
func CellText(value any) (string, bool) {
	return ColumnCellText("", value)
}

// ColumnCellText is ConvertColumnCell with the sentinel substituted on failure.
func ColumnCellText(dbType string, value any) (string, bool) {
	text, err := ConvertColumnCell(dbType, value)
	if err != nil {
		return Sentinel, false
	}
	return text, true
}
