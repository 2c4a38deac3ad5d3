package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"stagewise/internal/logging"
)

const pollInterval = 250 * time.Millisecond

// Filter reports whether a log line should be returned.
type Filter func(line string) bool

// TaskFilter keeps JSON records whose task_id equals id.
func TaskFilter(id int64) Filter {
	return func(line string) bool {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return false
		}
		value, ok := record[logging.FieldTaskID].(float64)
		return ok && int64(value) == id
	}
}

// TailOptions selects which lines Tail returns. A negative Offset means
// "the last Limit lines"; otherwise reading starts at Offset. With Follow
// set, Tail waits up to Wait for new lines when none are available.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Filter Filter
}

// TailResult holds matching lines and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log at path. A missing file yields no lines.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	// Negative offsets scan the whole file; an offset past the end means
	// the file was truncated and is read from the start.
	start := opts.Offset
	if start < 0 || start > info.Size() {
		start = 0
	}
	lines, offset, err := readFrom(path, start, opts.Filter)
	if err != nil {
		return TailResult{Offset: opts.Offset}, err
	}
	if opts.Offset < 0 {
		lines = lastN(lines, opts.Limit)
	}
	result := TailResult{Lines: lines, Offset: offset}
	if len(lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return result, nil
	}
	return waitForLines(ctx, path, offset, opts)
}

func lastN(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func readFrom(path string, offset int64, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	pos := offset
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// A partial trailing line is left for the next read.
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		pos += int64(len(line))
		line = line[:len(line)-1]
		if filter == nil || filter(line) {
			lines = append(lines, line)
		}
	}
	return lines, pos, nil
}

func waitForLines(ctx context.Context, path string, offset int64, opts TailOptions) (TailResult, error) {
	deadline := time.NewTimer(opts.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-deadline.C:
			return TailResult{Offset: offset}, nil
		case <-ticker.C:
		}
		lines, next, err := readFrom(path, offset, opts.Filter)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		offset = next
		if len(lines) > 0 {
			return TailResult{Lines: lines, Offset: offset}, nil
		}
	}
}
