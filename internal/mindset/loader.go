package mindset

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader reads and caches .minds/ content. A watcher invalidates the cache
// when anything under .minds/ changes.
type Loader struct {
	dir string // the .minds directory

	mu    sync.Mutex
	team  *Team
	llm   *LLM
	files map[string]string // cached file bodies keyed by relative path

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader opens .minds/ under workspace and starts the change watcher.
// A missing directory is a config error: the driver cannot run without a team.
func NewLoader(workspace string) (*Loader, error) {
	dir := filepath.Join(workspace, ".minds")
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("mindset: %s: %w", dir, err)
	}
	l := &Loader{
		dir:   dir,
		files: make(map[string]string),
		done:  make(chan struct{}),
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		l.watcher = w
		_ = w.Add(dir)
		_ = w.Add(filepath.Join(dir, "team"))
		go l.watch()
	} else {
		slog.Warn("mindset: watcher unavailable, edits require restart", "error", err)
	}
	return l, nil
}

// Close stops the watcher.
func (l *Loader) Close() {
	close(l.done)
	if l.watcher != nil {
		l.watcher.Close()
	}
}

func (l *Loader) watch() {
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.invalidate()
				slog.Debug("mindset: cache invalidated", "file", ev.Name)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("mindset: watcher error", "error", err)
		}
	}
}

func (l *Loader) invalidate() {
	l.mu.Lock()
	l.team = nil
	l.llm = nil
	l.files = make(map[string]string)
	l.mu.Unlock()
}

// Team loads and caches .minds/team.yaml.
func (l *Loader) Team() (*Team, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.team != nil {
		return l.team, nil
	}
	var t Team
	if err := loadYAML(filepath.Join(l.dir, "team.yaml"), &t); err != nil {
		return nil, err
	}
	l.team = &t
	return l.team, nil
}

// LLM loads and caches .minds/llm.yaml.
func (l *Loader) LLM() (*LLM, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.llm != nil {
		return l.llm, nil
	}
	var c LLM
	if err := loadYAML(filepath.Join(l.dir, "llm.yaml"), &c); err != nil {
		return nil, err
	}
	l.llm = &c
	return l.llm, nil
}

// file reads a cached file body by path relative to .minds/. Missing files
// return "".
func (l *Loader) file(rel string) string {
	l.mu.Lock()
	if body, ok := l.files[rel]; ok {
		l.mu.Unlock()
		return body
	}
	l.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(l.dir, rel))
	body := ""
	if err == nil {
		body = string(data)
	}

	l.mu.Lock()
	l.files[rel] = body
	l.mu.Unlock()
	return body
}

// langPreferred returns base.<lang>.md when present, else base.md.
func (l *Loader) langPreferred(base, lang string) string {
	if lang != "" {
		if body := l.file(base + "." + lang + ".md"); body != "" {
			return body
		}
	}
	return l.file(base + ".md")
}

// Persona returns the member's persona text, language-preferred.
func (l *Loader) Persona(memberID, lang string) string {
	return l.langPreferred(filepath.Join("team", memberID, "persona"), lang)
}

// Knowledge returns the member's knowledge text, language-preferred.
func (l *Loader) Knowledge(memberID, lang string) string {
	return l.langPreferred(filepath.Join("team", memberID, "knowledge"), lang)
}

// Lessons returns the member's lessons text, language-preferred.
func (l *Loader) Lessons(memberID, lang string) string {
	return l.langPreferred(filepath.Join("team", memberID, "lessons"), lang)
}

// EnvIntro returns .minds/env.md.
func (l *Loader) EnvIntro() string { return l.file("env.md") }

// DiligenceText resolves the auto-continue prompt body:
// diligence.<lang>.md → diligence.md → built-in fallback. An existing but
// empty file disables the diligence push entirely.
func (l *Loader) DiligenceText(lang string) (text string, disabled bool) {
	if lang != "" {
		if body := l.file("diligence." + lang + ".md"); body != "" {
			return strings.TrimSpace(body), false
		}
	}
	path := filepath.Join(l.dir, "diligence.md")
	if data, err := os.ReadFile(path); err == nil {
		body := strings.TrimSpace(string(data))
		if body == "" {
			return "", true
		}
		return body, false
	}
	return defaultDiligenceText, false
}

const defaultDiligenceText = "Keep going: continue working toward the current goal. " +
	"If everything is done, summarize the outcome instead of asking what to do next."
