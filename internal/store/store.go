// Package store persists per-dialog driver state under <workspace>/run/:
//
//	run/<selfId>/latest.yaml              merged snapshot, atomic replace
//	run/<selfId>/events/<course>.yaml     append-only event log
//	run/<selfId>/pending-subdialogs.yaml  outstanding teammate assignments
//	run/<selfId>/q4h.yaml                 outstanding questions for the human
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
)

// LatestState is the merged per-dialog snapshot.
type LatestState struct {
	Status                       string         `yaml:"status"`
	RunState                     runstate.State `yaml:"run_state"`
	MessageCount                 int            `yaml:"message_count"`
	FunctionCallCount            int            `yaml:"function_call_count"`
	NeedsDrive                   bool           `yaml:"needs_drive"`
	DiligencePushRemainingBudget *int           `yaml:"diligence_push_remaining_budget,omitempty"`
	UpdatedAt                    time.Time      `yaml:"updated_at"`
}

// PendingSubdialog anchors a dispatched teammate call until its reply lands.
type PendingSubdialog struct {
	SubdialogID    string    `yaml:"subdialog_id"`
	CallerDialogID string    `yaml:"caller_dialog_id"`
	CallID         string    `yaml:"call_id"`
	CallType       string    `yaml:"call_type"`
	TargetAgentID  string    `yaml:"target_agent_id"`
	TellaskContent string    `yaml:"tellask_content"`
	Course         int       `yaml:"course"`
	CreatedAt      time.Time `yaml:"created_at"`
}

// Q4H is a persisted question for the human operator.
type Q4H struct {
	ID             string    `yaml:"id"`
	TellaskContent string    `yaml:"tellask_content"`
	AskedAt        time.Time `yaml:"asked_at"`
	Course         int       `yaml:"course"`
	MessageIndex   int       `yaml:"message_index"`
	Kind           string    `yaml:"kind"`
}

// Store is the file-backed persistence layer. Snapshot writes go through a
// mutator callback so concurrent patches merge instead of clobbering.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-dialog file lock
	txns  map[string]*sync.Mutex // per-root transaction lock (pending records)
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "run"), 0o755); err != nil {
		return nil, fmt.Errorf("store: create run dir: %w", err)
	}
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
		txns:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) dialogDir(dialogID string) string {
	return filepath.Join(s.root, "run", dialogID)
}

func (s *Store) lockFor(key string, m map[string]*sync.Mutex) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := m[key]
	if !ok {
		l = &sync.Mutex{}
		m[key] = l
	}
	return l
}

// WithRootTxn runs fn under the per-root transaction lock. It serializes the
// tool round appending a pending record against the sub-dialog manager
// removing one.
func (s *Store) WithRootTxn(rootID string, fn func() error) error {
	l := s.lockFor(rootID, s.txns)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// writeAtomic writes data via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadLatest reads the snapshot, returning a zero value when none exists.
func (s *Store) LoadLatest(dialogID string) (LatestState, error) {
	var st LatestState
	data, err := os.ReadFile(filepath.Join(s.dialogDir(dialogID), "latest.yaml"))
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("store: read latest for %s: %w", dialogID, err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("store: parse latest for %s: %w", dialogID, err)
	}
	return st, nil
}

// MutateLatest applies fn to the current snapshot and flushes atomically.
func (s *Store) MutateLatest(dialogID string, fn func(*LatestState)) (LatestState, error) {
	l := s.lockFor(dialogID, s.locks)
	l.Lock()
	defer l.Unlock()

	st, err := s.LoadLatest(dialogID)
	if err != nil {
		return st, err
	}
	fn(&st)
	st.UpdatedAt = time.Now()

	data, err := yaml.Marshal(&st)
	if err != nil {
		return st, fmt.Errorf("store: marshal latest for %s: %w", dialogID, err)
	}
	if err := writeAtomic(filepath.Join(s.dialogDir(dialogID), "latest.yaml"), data); err != nil {
		return st, fmt.Errorf("store: write latest for %s: %w", dialogID, err)
	}
	return st, nil
}

// AppendEvent appends one record to the per-course event log.
func (s *Store) AppendEvent(dialogID string, course int, event any) error {
	l := s.lockFor(dialogID, s.locks)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Join(s.dialogDir(dialogID), "events")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.yaml", course))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := yaml.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte("---\n")); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}
