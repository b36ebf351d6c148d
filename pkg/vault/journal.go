package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// OperationRecord captures one orchestrated operation end to end for audit.
// RevertReason holds the remote error verbatim; this is a trust-sensitive
// financial flow and the record must not paraphrase it.
type OperationRecord struct {
	Timestamp    time.Time         `json:"timestamp"`
	Operation    string            `json:"operation"`
	Owner        string            `json:"owner,omitempty"`
	PositionID   string            `json:"position_id,omitempty"`
	Amounts      map[string]string `json:"amounts,omitempty"`
	Digest       string            `json:"digest,omitempty"`
	Status       string            `json:"status"`
	RevertReason string            `json:"revert_reason,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// Journal persists operation records to a directory as JSON files.
type Journal struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewJournal constructs a journal writer.
func NewJournal(dir string) *Journal {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Journal{dir: dir, nowFn: time.Now}
}

// Write persists one record to a timestamped JSON file and returns its path.
func (j *Journal) Write(rec *OperationRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("vault: nil journal record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = j.nowFn()
	}
	j.seq++
	name := fmt.Sprintf("op_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), j.seq)
	path := filepath.Join(j.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("vault: write journal record: %w", err)
	}
	return path, nil
}
