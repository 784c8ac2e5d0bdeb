package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/sift/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// headers defines the CSV column order
var headers = []string{
	"id",
	"query",
	"sources",
	"limit",
	"include_content",
	"status",
	"result_count",
	"results_json",
	"failures_json",
	"error",
	"summary",
	"created_at",
	"finished_at",
}

// New creates a new CSV-backed storage.Backend.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open csv archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv archive: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	return &csvBackend{
		file: f,
	}, nil
}

func (b *csvBackend) Save(ctx context.Context, rec *storage.Record) error {
	resultsJSON, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	failuresJSON, err := json.Marshal(rec.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	finished := ""
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt.Format(time.RFC3339Nano)
	}

	row := []string{
		rec.ID,
		rec.Query,
		strings.Join(rec.Sources, ","),
		strconv.Itoa(rec.Limit),
		strconv.FormatBool(rec.IncludeContent),
		rec.Status,
		strconv.Itoa(len(rec.Results)),
		string(resultsJSON),
		string(failuresJSON),
		rec.Error,
		rec.Summary,
		rec.CreatedAt.Format(time.RFC3339Nano),
		finished,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek csv archive: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek csv archive: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return []*storage.Record{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var log []*storage.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(row) != len(headers) {
			continue // skip malformed rows
		}
		log = append(log, parseRow(row))
	}

	var matched []*storage.Record
	for _, rec := range storage.Newest(log) {
		if filter.Match(rec) {
			matched = append(matched, rec)
		}
	}
	return filter.Page(matched), nil
}

func parseRow(row []string) *storage.Record {
	limit, _ := strconv.Atoi(row[3])
	include, _ := strconv.ParseBool(row[4])
	createdAt, _ := time.Parse(time.RFC3339Nano, row[11])

	rec := &storage.Record{
		ID:             row[0],
		Query:          row[1],
		Limit:          limit,
		IncludeContent: include,
		Status:         row[5],
		Error:          row[9],
		Summary:        row[10],
		CreatedAt:      createdAt,
	}
	if row[2] != "" {
		rec.Sources = strings.Split(row[2], ",")
	}
	// Unparseable JSON columns leave the slices empty.
	_ = json.Unmarshal([]byte(row[7]), &rec.Results)
	_ = json.Unmarshal([]byte(row[8]), &rec.Failures)
	if row[12] != "" {
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, row[12])
	}
	return rec
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
