package dialog

import "time"

// Kind tags the message variants stored in a dialog log.
type Kind string

const (
	KindPrompting      Kind = "prompting"       // operator (or synthetic) prompt
	KindSaying         Kind = "saying"          // assistant visible text
	KindThinking       Kind = "thinking"        // assistant reasoning, never re-sent
	KindFuncCall       Kind = "func_call"       // tool invocation emitted by the model
	KindFuncResult     Kind = "func_result"     // tool output keyed to a func call id
	KindTellaskResult  Kind = "tellask_result"  // terminal teammate reply bubble
	KindEnvironment    Kind = "environment"     // environment notice injected by the driver
	KindTransientGuide Kind = "transient_guide" // one-shot guidance, not persisted across courses
	KindUIMarkdown     Kind = "ui_markdown"     // UI-only rendering, never sent to the provider
	KindCallAnchor     Kind = "teammate_call_anchor" // audit record for a teammate reply target
)

// Roles used in provider projection.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Teammate-call tool names intercepted by the tool round executor.
const (
	ToolTellask            = "tellask"
	ToolTellaskSessionless = "tellask_sessionless"
	ToolTellaskBack        = "tellask_back"
)

// IsTellaskName reports whether name is one of the intercepted teammate-call tools.
func IsTellaskName(name string) bool {
	switch name {
	case ToolTellask, ToolTellaskSessionless, ToolTellaskBack:
		return true
	}
	return false
}

// Message is one entry in a dialog log. The Kind discriminates which fields
// are meaningful: CallID/CallName/CallArgs for func_call, CallID for
// func_result and tellask_result, Content for everything textual.
type Message struct {
	Kind     Kind      `yaml:"kind" json:"kind"`
	Role     string    `yaml:"role,omitempty" json:"role,omitempty"`
	Content  string    `yaml:"content,omitempty" json:"content,omitempty"`
	CallID   string    `yaml:"call_id,omitempty" json:"call_id,omitempty"`
	CallName string    `yaml:"call_name,omitempty" json:"call_name,omitempty"`
	CallArgs string    `yaml:"call_args,omitempty" json:"call_args,omitempty"`
	Genseq   int64     `yaml:"genseq" json:"genseq"`
	Course   int       `yaml:"course" json:"course"`
	At       time.Time `yaml:"at" json:"at"`
}

// Prompting builds a user prompting message.
func Prompting(content string, genseq int64, course int) Message {
	return Message{Kind: KindPrompting, Role: RoleUser, Content: content, Genseq: genseq, Course: course, At: time.Now()}
}

// Saying builds an assistant text message.
func Saying(content string, genseq int64, course int) Message {
	return Message{Kind: KindSaying, Role: RoleAssistant, Content: content, Genseq: genseq, Course: course, At: time.Now()}
}

// FuncCall builds a tool invocation record.
func FuncCall(id, name, args string, genseq int64, course int) Message {
	return Message{Kind: KindFuncCall, Role: RoleAssistant, CallID: id, CallName: name, CallArgs: args, Genseq: genseq, Course: course, At: time.Now()}
}

// FuncResult builds a tool output record paired to a call id.
func FuncResult(callID, name, content string, genseq int64, course int) Message {
	return Message{Kind: KindFuncResult, Role: RoleTool, CallID: callID, CallName: name, Content: content, Genseq: genseq, Course: course, At: time.Now()}
}

// TellaskResult builds the distinct teammate-reply bubble.
func TellaskResult(callID, content string, genseq int64, course int) Message {
	return Message{Kind: KindTellaskResult, Role: RoleTool, CallID: callID, Content: content, Genseq: genseq, Course: course, At: time.Now()}
}
