package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func (s *Store) pendingPath(callerID string) string {
	return filepath.Join(s.dialogDir(callerID), "pending-subdialogs.yaml")
}

// PendingSubdialogs loads the caller's outstanding teammate assignments.
func (s *Store) PendingSubdialogs(callerID string) ([]PendingSubdialog, error) {
	data, err := os.ReadFile(s.pendingPath(callerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read pending for %s: %w", callerID, err)
	}
	var out []PendingSubdialog
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: parse pending for %s: %w", callerID, err)
	}
	return out, nil
}

func (s *Store) writePending(callerID string, recs []PendingSubdialog) error {
	if len(recs) == 0 {
		err := os.Remove(s.pendingPath(callerID))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	data, err := yaml.Marshal(recs)
	if err != nil {
		return err
	}
	return writeAtomic(s.pendingPath(callerID), data)
}

// AppendPendingSubdialog records a dispatched teammate call. Callers must
// hold the root transaction lock (WithRootTxn).
func (s *Store) AppendPendingSubdialog(rec PendingSubdialog) error {
	recs, err := s.PendingSubdialogs(rec.CallerDialogID)
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	return s.writePending(rec.CallerDialogID, recs)
}

// RemovePendingSubdialog deletes the record for one sub-dialog and returns it.
// Callers must hold the root transaction lock.
func (s *Store) RemovePendingSubdialog(callerID, subdialogID string) (*PendingSubdialog, error) {
	recs, err := s.PendingSubdialogs(callerID)
	if err != nil {
		return nil, err
	}
	for i, r := range recs {
		if r.SubdialogID == subdialogID {
			removed := r
			recs = append(recs[:i], recs[i+1:]...)
			if err := s.writePending(callerID, recs); err != nil {
				return nil, err
			}
			return &removed, nil
		}
	}
	return nil, nil
}

// HasPendingSubdialogs reports whether the caller is waiting on teammates.
func (s *Store) HasPendingSubdialogs(callerID string) bool {
	recs, err := s.PendingSubdialogs(callerID)
	return err == nil && len(recs) > 0
}
