package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/storage"
)

const ContentType = "application/vnd.apache.parquet"

var ErrEmptyResult = errors.New("result has no rows to export")

type Artifact struct {
	ID        string    `json:"export_id"`
	Key       string    `json:"object_key"`
	SizeBytes int64     `json:"size_bytes"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
	// DownloadURL is a presigned link, set only when the object store can presign.
	DownloadURL string `json:"download_url,omitempty"`
}

// ColumnNames returns unique Parquet column names for header. Repeated names get _2, _3 suffixes
// and blank names become column_<n>.
func ColumnNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	occurrences := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		occurrences[name]++
		candidate := name
		if occurrences[name] > 1 {
			candidate = name + "_" + strconv.Itoa(occurrences[name])
		}
		for used[candidate] {
			occurrences[name]++
			candidate = name + "_" + strconv.Itoa(occurrences[name])
		}
		used[candidate] = true
		names[i] = candidate
	}
	return names
}

// EncodeParquet writes the result table as a Parquet file with one required string column per
// header cell. The header row itself is not written as data.
func EncodeParquet(result query.Result) ([]byte, error) {
	header := result.Header()
	if header == nil {
		return nil, ErrEmptyResult
	}
	names := ColumnNames(header)

	group := make(parquet.Group, len(names))
	for _, name := range names {
		group[name] = parquet.String()
	}
	schema := parquet.NewSchema("result", group)

	// Group fields are sorted by name, so leaf indexes differ from header positions.
	leafIndex := make([]int, len(names))
	for i, name := range names {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("column %q missing from parquet schema", name)
		}
		leafIndex[i] = leaf.ColumnIndex
	}

	data := result.Data()
	rows := make([]parquet.Row, 0, len(data))
	for _, cells := range data {
		row := make(parquet.Row, len(names))
		for i := range names {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			idx := leafIndex[i]
			row[idx] = parquet.ValueOf(cell).Level(0, 0, idx)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Exporter stores encoded results in the object store under exports/<id>.parquet.
type Exporter struct {
	Store storage.ObjectStore
	NewID func() string
	Now   func() time.Time
	// PresignExpiry enables presigned download links on stores that support them.
	PresignExpiry time.Duration
}

func NewExporter(store storage.ObjectStore) *Exporter {
	return &Exporter{Store: store, NewID: uuid.NewString, Now: time.Now}
}

func (e *Exporter) Export(ctx context.Context, result query.Result) (Artifact, error) {
	if e.Store == nil {
		return Artifact{}, fmt.Errorf("object store is required")
	}
	payload, err := EncodeParquet(result)
	if err != nil {
		return Artifact{}, err
	}
	id := e.NewID()
	key, err := storage.BuildExportPath(id)
	if err != nil {
		return Artifact{}, err
	}
	rowCount := len(result.Data())
	info, err := e.Store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{
		ContentType: ContentType,
		Metadata: map[string]string{
			"row-count": strconv.Itoa(rowCount),
			"columns":   strconv.Itoa(len(result.Columns)),
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store export: %w", err)
	}
	size := info.Size
	if size <= 0 {
		size = int64(len(payload))
	}
	artifact := Artifact{
		ID:        id,
		Key:       key,
		SizeBytes: size,
		RowCount:  rowCount,
		CreatedAt: e.Now().UTC(),
	}
	if presigner, ok := e.Store.(storage.Presigner); ok && e.PresignExpiry > 0 {
		link, err := presigner.PresignGet(ctx, key, e.PresignExpiry, id+".parquet")
		if err != nil {
			return Artifact{}, fmt.Errorf("presign export: %w", err)
		}
		artifact.DownloadURL = link
	}
	return artifact, nil
}

// Open returns the stored Parquet file for id. Missing exports yield storage.ErrObjectNotFound.
func (e *Exporter) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	key, err := storage.BuildExportPath(id)
	if err != nil {
		return nil, err
	}
	return e.Store.Get(ctx, key)
}
