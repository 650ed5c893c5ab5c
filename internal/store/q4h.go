package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func (s *Store) q4hPath(dialogID string) string {
	return filepath.Join(s.dialogDir(dialogID), "q4h.yaml")
}

// OpenQ4Hs loads the dialog's outstanding human questions.
func (s *Store) OpenQ4Hs(dialogID string) ([]Q4H, error) {
	data, err := os.ReadFile(s.q4hPath(dialogID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read q4h for %s: %w", dialogID, err)
	}
	var out []Q4H
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: parse q4h for %s: %w", dialogID, err)
	}
	return out, nil
}

func (s *Store) writeQ4Hs(dialogID string, qs []Q4H) error {
	if len(qs) == 0 {
		err := os.Remove(s.q4hPath(dialogID))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	data, err := yaml.Marshal(qs)
	if err != nil {
		return err
	}
	return writeAtomic(s.q4hPath(dialogID), data)
}

// AppendQ4H persists a new human question.
func (s *Store) AppendQ4H(dialogID string, q Q4H) error {
	l := s.lockFor(dialogID, s.locks)
	l.Lock()
	defer l.Unlock()
	qs, err := s.OpenQ4Hs(dialogID)
	if err != nil {
		return err
	}
	qs = append(qs, q)
	return s.writeQ4Hs(dialogID, qs)
}

// HasOpenQ4H reports whether the dialog is blocked on a human answer.
func (s *Store) HasOpenQ4H(dialogID string) bool {
	qs, err := s.OpenQ4Hs(dialogID)
	return err == nil && len(qs) > 0
}

// ResolveQ4H removes a question by id from the dialog's file, returning it.
func (s *Store) ResolveQ4H(dialogID, q4hID string) (*Q4H, error) {
	l := s.lockFor(dialogID, s.locks)
	l.Lock()
	defer l.Unlock()
	qs, err := s.OpenQ4Hs(dialogID)
	if err != nil {
		return nil, err
	}
	for i, q := range qs {
		if q.ID == q4hID {
			removed := q
			qs = append(qs[:i], qs[i+1:]...)
			if err := s.writeQ4Hs(dialogID, qs); err != nil {
				return nil, err
			}
			return &removed, nil
		}
	}
	return nil, nil
}

// FindQ4H scans every dialog's q4h file for the given question id. The answer
// command addresses questions by id alone.
func (s *Store) FindQ4H(q4hID string) (dialogID string, q *Q4H, err error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "run"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, nil
		}
		return "", nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		qs, err := s.OpenQ4Hs(e.Name())
		if err != nil {
			continue
		}
		for _, cand := range qs {
			if cand.ID == q4hID {
				c := cand
				return e.Name(), &c, nil
			}
		}
	}
	return "", nil, nil
}
