package csvbackend

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/harrier/internal/storage"
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
	"mode",
	"page",
	"strategy",
	"status_code",
	"outcome",
	"block_reason",
	"accepted",
	"body_size",
	"duration_ms",
	"created_at",
	"error",
}

// New creates a new CSV-backed storage.Backend.
func New(filePath string) (storage.Backend, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csvbackend: %w", err)
	}

	// Check if file is empty to write headers
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvbackend: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: %w", err)
		}
	}

	return &csvBackend{
		file: f,
	}, nil
}

func (b *csvBackend) Save(ctx context.Context, c *storage.Capture) error {
	record := []string{
		c.ID,
		c.Query,
		c.Mode,
		strconv.Itoa(c.Page),
		c.Strategy,
		strconv.Itoa(c.StatusCode),
		c.Outcome,
		c.BlockReason,
		strconv.Itoa(c.Accepted),
		strconv.FormatInt(c.BodySize, 10),
		strconv.FormatInt(c.Duration.Milliseconds(), 10),
		c.CreatedAt.Format(time.RFC3339Nano),
		c.Error,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Ensure we're at the end of the file for appending (just in case)
	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("csvbackend: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("csvbackend: %w", err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("csvbackend: %w", err)
	}

	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Capture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Seek to the beginning of the file to read all entries
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csvbackend: %w", err)
	}
	defer func() {
		// Restore pointer to end for writing
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)

	// Read headers
	_, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return []*storage.Capture{}, nil
		}
		return nil, fmt.Errorf("csvbackend: %w", err)
	}

	var allFiltered []*storage.Capture

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbackend: %w", err)
		}

		if len(record) != len(headers) {
			continue // skip malformed rows
		}

		page, _ := strconv.Atoi(record[3])
		statusCode, _ := strconv.Atoi(record[5])
		accepted, _ := strconv.Atoi(record[8])
		bodySize, _ := strconv.ParseInt(record[9], 10, 64)
		durationMs, _ := strconv.ParseInt(record[10], 10, 64)
		createdAt, _ := time.Parse(time.RFC3339Nano, record[11])

		c := &storage.Capture{
			ID:          record[0],
			Query:       record[1],
			Mode:        record[2],
			Page:        page,
			Strategy:    record[4],
			StatusCode:  statusCode,
			Outcome:     record[6],
			BlockReason: record[7],
			Accepted:    accepted,
			BodySize:    bodySize,
			Duration:    time.Duration(durationMs) * time.Millisecond,
			CreatedAt:   createdAt,
			Error:       record[12],
		}

		// Apply filters
		if filter.Query != "" && c.Query != filter.Query {
			continue
		}
		if filter.Outcome != "" && c.Outcome != filter.Outcome {
			continue
		}
		if filter.Since != nil && c.CreatedAt.Before(*filter.Since) {
			continue
		}

		allFiltered = append(allFiltered, c)
	}

	// Order by created_at DESC (reverse the slice)
	for i, j := 0, len(allFiltered)-1; i < j; i, j = i+1, j-1 {
		allFiltered[i], allFiltered[j] = allFiltered[j], allFiltered[i]
	}

	// Apply Offset
	if filter.Offset > 0 {
		if filter.Offset >= len(allFiltered) {
			return []*storage.Capture{}, nil
		}
		allFiltered = allFiltered[filter.Offset:]
	}

	// Apply Limit
	if filter.Limit > 0 && filter.Limit < len(allFiltered) {
		allFiltered = allFiltered[:filter.Limit]
	}

	return allFiltered, nil
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
