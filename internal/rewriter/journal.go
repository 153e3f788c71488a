package rewriter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
)

// journalFileSuffix is the extension of a journal file: each operation's
// record lives at <dir>/<operation id>.json, where dir is the journal
// directory the caller passes in (Transaction.JournalDir).
const journalFileSuffix = ".json"

// JournalRecord is a transaction's durable progress marker, written once
// planning is done and again once the backup is taken, so Engine.Recover
// can restore the branch after a crash (spec's supplemental journal-based
// recovery feature).
type JournalRecord struct {
	OperationID string              `json:"operation_id"`
	Branch      string              `json:"branch"`
	State       string              `json:"state"`
	Operation   diffmodel.Operation `json:"operation"`
	BackupID    diffmodel.CommitId  `json:"backup_commit_id"`
	StartedAt   time.Time           `json:"started_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func journalPath(dir, operationID string) string {
	return filepath.Join(dir, operationID+journalFileSuffix)
}

// WriteJournal persists rec to dir, overwriting any prior record for the
// same operation id.
func WriteJournal(dir string, rec JournalRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	tmp := journalPath(dir, rec.OperationID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return os.Rename(tmp, journalPath(dir, rec.OperationID))
}

// ReadJournal loads a single operation's journal record.
func ReadJournal(dir, operationID string) (JournalRecord, error) {
	data, err := os.ReadFile(journalPath(dir, operationID))
	if err != nil {
		return JournalRecord{}, err
	}
	var rec JournalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return JournalRecord{}, fmt.Errorf("decode journal record: %w", err)
	}
	return rec, nil
}

// DeleteJournal removes a completed or rolled-back operation's journal
// file; a Done or Idle transaction no longer needs recovery data.
func DeleteJournal(dir, operationID string) error {
	err := os.Remove(journalPath(dir, operationID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListJournals returns every operation id with a pending journal record,
// the candidates Engine.RecoverAll has to consider on startup.
func ListJournals(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != journalFileSuffix {
			continue
		}
		ids = append(ids, name[:len(name)-len(journalFileSuffix)])
	}
	return ids, nil
}
