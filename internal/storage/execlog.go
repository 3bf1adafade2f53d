package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ExecutionRecord is one line of the execution history log.
type ExecutionRecord struct {
	TaskID     string    `json:"task_id"`
	TaskName   string    `json:"task_name,omitempty"`
	Successful bool      `json:"successful"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// ExecutionLog appends execution outcomes to a JSONL file. When the file
// grows past maxBytes it is rotated once to <path>.1.
type ExecutionLog struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
}

// DefaultExecLogMaxBytes caps the history file at 8 MiB before rotation.
const DefaultExecLogMaxBytes = 8 << 20

// NewExecutionLog creates an execution log at path.
func NewExecutionLog(path string) *ExecutionLog {
	return &ExecutionLog{path: path, maxBytes: DefaultExecLogMaxBytes}
}

// Append writes one record. Rotation happens before the write so a
// record is never split across files.
func (l *ExecutionLog) Append(rec ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	l.rotateLocked()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open execution log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write execution record: %w", err)
	}
	return nil
}

// Tail returns the most recent n records, oldest first. A missing log
// file yields an empty slice.
func (l *ExecutionLog) Tail(n int) ([]ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open execution log: %w", err)
	}
	defer f.Close()

	var records []ExecutionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec ExecutionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // tolerate a torn trailing line
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read execution log: %w", err)
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (l *ExecutionLog) rotateLocked() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() < l.maxBytes {
		return
	}
	os.Rename(l.path, l.path+".1")
}
