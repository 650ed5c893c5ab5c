package dialog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/teamdrive/internal/provider"
)

// Status is the logical lifecycle of a dialog. Dialogs are never removed from
// the arena during the process lifetime; they only transition status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// ID identifies a dialog. Root dialogs satisfy Self == Root.
type ID struct {
	Self string `yaml:"self" json:"self"`
	Root string `yaml:"root" json:"root"`
}

func (id ID) IsRoot() bool { return id.Self == id.Root }

func (id ID) String() string {
	if id.IsRoot() {
		return id.Self
	}
	return fmt.Sprintf("%s(root=%s)", id.Self, id.Root)
}

// Origin marks where a prompt came from.
type Origin string

const (
	OriginUser          Origin = "user"
	OriginDiligencePush Origin = "diligence_push"
	OriginHealth        Origin = "health"
)

// ReplyTarget pins a sub-dialog answer to a specific caller tool-call slot.
type ReplyTarget struct {
	OwnerDialogID string `yaml:"owner_dialog_id" json:"owner_dialog_id"`
	CallType      string `yaml:"call_type" json:"call_type"`
	CallID        string `yaml:"call_id" json:"call_id"`
}

// Prompt is the human (or synthetic) input consumed by a drive iteration.
type Prompt struct {
	Content              string
	Origin               Origin
	UserLanguageCode     string
	SubdialogReplyTarget *ReplyTarget
	Q4HAnswerCallIDs     []string
}

// Reminder is a small note the agent maintains via the intrinsic reminder tools.
type Reminder struct {
	ID      string    `yaml:"id" json:"id"`
	Content string    `yaml:"content" json:"content"`
	At      time.Time `yaml:"at" json:"at"`
}

// Dialog holds the in-memory state of one conversation. All mutators require
// the caller to hold the drive lock (Lock/TryLock); methods do not lock
// internally so the lock can be held across an entire drive.
type Dialog struct {
	mu sync.Mutex

	ID          ID
	AgentID     string
	SupdialogID string // caller dialog for subs, empty for roots

	Status Status
	Course int

	DisableDiligencePush bool

	msgs      []Message
	upNext    []Prompt
	reminders []Reminder

	genseq                 int64
	lastFunctionCallGenseq int64
	cautionInjected        bool

	// Health is the context-health snapshot attached after each generation.
	Health *provider.HealthSnapshot
}

// Lock acquires the exclusive drive lock, blocking until available.
func (d *Dialog) Lock() { d.mu.Lock() }

// TryLock acquires the drive lock without waiting.
func (d *Dialog) TryLock() bool { return d.mu.TryLock() }

// Unlock releases the drive lock.
func (d *Dialog) Unlock() { d.mu.Unlock() }

// NextGenseq increments and returns the dialog's generation sequence.
func (d *Dialog) NextGenseq() int64 {
	d.genseq++
	return d.genseq
}

// Genseq returns the current generation sequence without advancing it.
func (d *Dialog) Genseq() int64 { return d.genseq }

// LastFunctionCallGenseq returns the genseq of the most recent tool round.
func (d *Dialog) LastFunctionCallGenseq() int64 { return d.lastFunctionCallGenseq }

// SetLastFunctionCallGenseq records the max call genseq observed in a tool round.
func (d *Dialog) SetLastFunctionCallGenseq(g int64) {
	if g > d.lastFunctionCallGenseq {
		d.lastFunctionCallGenseq = g
	}
}

// Append adds messages to the log. Genseq must not decrease.
func (d *Dialog) Append(msgs ...Message) {
	d.msgs = append(d.msgs, msgs...)
}

// Messages returns a copy of the message log.
func (d *Dialog) Messages() []Message {
	out := make([]Message, len(d.msgs))
	copy(out, d.msgs)
	return out
}

// MessageCount returns the log length.
func (d *Dialog) MessageCount() int { return len(d.msgs) }

// LastMessage returns the last log entry, or nil for an empty log.
func (d *Dialog) LastMessage() *Message {
	if len(d.msgs) == 0 {
		return nil
	}
	m := d.msgs[len(d.msgs)-1]
	return &m
}

// PushUpNext queues a follow-up prompt consumed at the start of the next iteration.
func (d *Dialog) PushUpNext(p Prompt) { d.upNext = append(d.upNext, p) }

// PopUpNext dequeues the next queued prompt, or nil.
func (d *Dialog) PopUpNext() *Prompt {
	if len(d.upNext) == 0 {
		return nil
	}
	p := d.upNext[0]
	d.upNext = d.upNext[1:]
	return &p
}

// HasUpNext reports whether a follow-up prompt is queued.
func (d *Dialog) HasUpNext() bool { return len(d.upNext) > 0 }

// NewCourse advances the episode counter when the user starts a fresh round.
func (d *Dialog) NewCourse() int {
	d.Course++
	return d.Course
}

// CautionInjected reports whether the caution-remediation prompt has fired.
// Gated to at most once per dialog instance.
func (d *Dialog) CautionInjected() bool { return d.cautionInjected }
func (d *Dialog) MarkCautionInjected()  { d.cautionInjected = true }

// AddReminder appends a reminder and returns its id.
func (d *Dialog) AddReminder(content string) string {
	id := uuid.NewString()[:8]
	d.reminders = append(d.reminders, Reminder{ID: id, Content: content, At: time.Now()})
	return id
}

// UpdateReminder replaces a reminder's content by id.
func (d *Dialog) UpdateReminder(id, content string) bool {
	for i := range d.reminders {
		if d.reminders[i].ID == id {
			d.reminders[i].Content = content
			return true
		}
	}
	return false
}

// DeleteReminder removes a reminder by id.
func (d *Dialog) DeleteReminder(id string) bool {
	for i := range d.reminders {
		if d.reminders[i].ID == id {
			d.reminders = append(d.reminders[:i], d.reminders[i+1:]...)
			return true
		}
	}
	return false
}

// Reminders returns a copy of the reminder list.
func (d *Dialog) Reminders() []Reminder {
	out := make([]Reminder, len(d.reminders))
	copy(out, d.reminders)
	return out
}

// FunctionCallCount counts func_call entries in the log.
func (d *Dialog) FunctionCallCount() int {
	n := 0
	for _, m := range d.msgs {
		if m.Kind == KindFuncCall {
			n++
		}
	}
	return n
}
