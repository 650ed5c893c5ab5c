// Package control exposes the driver's local command surface: a JSON HTTP API
// for input/stop/resume/answer/status and a websocket event stream.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/drive"
	"github.com/nextlevelbuilder/teamdrive/internal/mindset"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
)

// Queue schedules drives; satisfied by the global scheduler.
type Queue interface {
	Enqueue(req drive.Request)
	MarkNeedsDrive(dialogID string)
}

// Server is the driver's local control endpoint.
type Server struct {
	Arena  *dialog.Arena
	Minds  *mindset.Loader
	Store  *store.Store
	Runs   *runstate.Registry
	Events *bus.Bus
	Queue  Queue

	DefaultLang string

	httpServer *http.Server
}

// Start begins serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/input", s.handleInput)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("POST /api/answer", s.handleAnswer)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("control server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// InputRequest feeds operator text into a dialog. An empty DialogID opens a
// fresh root dialog for AgentID (or the roster default).
type InputRequest struct {
	DialogID string `json:"dialog_id,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Content  string `json:"content"`
	Lang     string `json:"lang,omitempty"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req InputRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("content is required"))
		return
	}

	var d *dialog.Dialog
	if req.DialogID != "" {
		var err error
		d, err = s.Arena.Get(req.DialogID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
	} else {
		agentID := req.AgentID
		if agentID == "" {
			team, err := s.Minds.Team()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			m, ok := team.DefaultMember()
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Errorf("team roster has no visible members"))
				return
			}
			agentID = m.ID
		}
		d = s.Arena.CreateRoot(agentID)
	}

	lang := req.Lang
	if lang == "" {
		lang = s.DefaultLang
	}
	s.Queue.Enqueue(drive.Request{
		DialogID: d.ID.Self,
		Prompt: &dialog.Prompt{
			Content:          req.Content,
			Origin:           dialog.OriginUser,
			UserLanguageCode: lang,
		},
		Flags: drive.Flags{WaitInQueue: true},
	})
	writeJSON(w, http.StatusOK, map[string]string{"dialog_id": d.ID.Self})
}

// StopRequest interrupts a dialog's in-flight drive.
type StopRequest struct {
	DialogID string `json:"dialog_id"`
	Reason   string `json:"reason,omitempty"` // emergency_stop, user_stop, system_stop
	Detail   string `json:"detail,omitempty"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := s.Arena.Get(req.DialogID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	reason := runstate.StopReason(req.Reason)
	switch reason {
	case runstate.StopEmergency, runstate.StopUser, runstate.StopSystem:
	case "":
		reason = runstate.StopUser
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown stop reason %q", req.Reason))
		return
	}

	live := s.Runs.RequestStop(d.ID.Self, reason, req.Detail)
	var st runstate.State
	if live {
		// The drive observes the abort and lands on interrupted; until then
		// the dialog reads as stop-requested.
		st = runstate.State{
			Kind:       runstate.KindProceedingStopRequested,
			StopReason: reason,
			Detail:     req.Detail,
		}
	} else {
		// No run to abort: the stop lands the dialog directly on interrupted,
		// refusing scheduler drives until resume or fresh user input.
		st = runstate.Interrupted(reason, req.Detail)
	}
	if _, err := s.Store.MutateLatest(d.ID.Self, func(ls *store.LatestState) {
		// The drive may have landed interrupted between the live check and
		// this persist; its terminal state wins.
		if live && ls.RunState.Kind == runstate.KindInterrupted {
			return
		}
		ls.RunState = st
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Runs.Broadcast(d.ID.Root, d.ID.Self, st)
	writeJSON(w, http.StatusOK, map[string]any{"interrupted_in_flight": live})
}

// ResumeRequest restarts an interrupted dialog without fresh input.
type ResumeRequest struct {
	DialogID string `json:"dialog_id"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := s.Arena.Get(req.DialogID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	latest, err := s.Store.LoadLatest(d.ID.Self)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Stop-requested is also resumable: a drive that died before persisting
	// its terminal state leaves the marker behind.
	switch latest.RunState.Kind {
	case runstate.KindInterrupted, runstate.KindProceedingStopRequested:
	default:
		writeError(w, http.StatusConflict, fmt.Errorf("dialog %s is %s, not interrupted", d.ID.Self, latest.RunState))
		return
	}

	s.Runs.ClearStop(d.ID.Self)
	s.Queue.Enqueue(drive.Request{
		DialogID: d.ID.Self,
		Flags:    drive.Flags{AllowResumeFromInterrupted: true, WaitInQueue: true},
	})
	writeJSON(w, http.StatusOK, map[string]string{"dialog_id": d.ID.Self})
}

// AnswerRequest resolves a question-for-human and feeds the answer back in.
type AnswerRequest struct {
	Q4HID    string `json:"q4h_id"`
	DialogID string `json:"dialog_id,omitempty"`
	Content  string `json:"content"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("content is required"))
		return
	}

	dialogID := req.DialogID
	if dialogID == "" {
		var err error
		dialogID, _, err = s.Store.FindQ4H(req.Q4HID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if dialogID == "" {
			writeError(w, http.StatusNotFound, fmt.Errorf("question %s not found", req.Q4HID))
			return
		}
	}
	d, err := s.Arena.Get(dialogID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	q, err := s.Store.ResolveQ4H(dialogID, req.Q4HID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("question %s not open on dialog %s", req.Q4HID, dialogID))
		return
	}

	s.Events.Publish(bus.Event{
		Type:     bus.EventQ4HAnswered,
		RootID:   d.ID.Root,
		DialogID: d.ID.Self,
		Payload:  map[string]any{"q4h_id": q.ID, "kind": q.Kind},
	})
	s.Queue.Enqueue(drive.Request{
		DialogID: d.ID.Self,
		Prompt: &dialog.Prompt{
			Content:          req.Content,
			Origin:           dialog.OriginUser,
			Q4HAnswerCallIDs: []string{q.ID},
		},
		Flags: drive.Flags{WaitInQueue: true},
	})
	writeJSON(w, http.StatusOK, map[string]string{"dialog_id": d.ID.Self})
}

// DialogStatus is one row of the status report.
type DialogStatus struct {
	DialogID          string                   `json:"dialog_id"`
	RootID            string                   `json:"root_id"`
	AgentID           string                   `json:"agent_id"`
	Status            string                   `json:"status"`
	RunState          runstate.State           `json:"run_state"`
	MessageCount      int                      `json:"message_count"`
	FunctionCallCount int                      `json:"function_call_count"`
	OpenQuestions     []store.Q4H              `json:"open_questions,omitempty"`
	PendingSubdialogs []store.PendingSubdialog `json:"pending_subdialogs,omitempty"`
}

func (s *Server) statusFor(d *dialog.Dialog) DialogStatus {
	latest, _ := s.Store.LoadLatest(d.ID.Self)
	qs, _ := s.Store.OpenQ4Hs(d.ID.Self)
	pending, _ := s.Store.PendingSubdialogs(d.ID.Self)
	return DialogStatus{
		DialogID:          d.ID.Self,
		RootID:            d.ID.Root,
		AgentID:           d.AgentID,
		Status:            string(d.Status),
		RunState:          latest.RunState,
		MessageCount:      latest.MessageCount,
		FunctionCallCount: latest.FunctionCallCount,
		OpenQuestions:     qs,
		PendingSubdialogs: pending,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("dialog_id"); id != "" {
		d, err := s.Arena.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, s.statusFor(d))
		return
	}
	var out []DialogStatus
	for _, d := range s.Arena.All() {
		out = append(out, s.statusFor(d))
	}
	writeJSON(w, http.StatusOK, out)
}
