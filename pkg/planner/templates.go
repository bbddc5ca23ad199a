package planner

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultInitialTemplate = `You are about to solve this task:

{{.Task}}

Write a short step-by-step plan for solving it with the tools available.
Do not solve the task yet.`

const defaultUpdateTemplate = `Task:

{{.Task}}

Progress so far (before step {{.StepNumber}}):

{{.Transcript}}

Revise the plan for the remaining work. Keep what worked, fix what did not.`

type promptData struct {
	Task       string
	StepNumber int
	Transcript string
}

// TemplateSet holds the planning prompts. With a template directory
// configured, initial.tmpl and update.tmpl override the defaults and reload
// when the files change.
type TemplateSet struct {
	mu      sync.RWMutex
	initial *template.Template
	update  *template.Template

	dir     string
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// NewTemplateSet loads the prompts, watching dir when it is non-empty.
func NewTemplateSet(dir string, logger zerolog.Logger) (*TemplateSet, error) {
	ts := &TemplateSet{
		dir:    dir,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if err := ts.load(); err != nil {
		return nil, err
	}

	if dir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
		ts.watcher = watcher
		go ts.run()
	}

	return ts, nil
}

// Close stops the watcher.
func (ts *TemplateSet) Close() error {
	if ts.watcher == nil {
		return nil
	}
	close(ts.stopCh)
	return ts.watcher.Close()
}

// RenderInitial renders the first-plan prompt.
func (ts *TemplateSet) RenderInitial(data promptData) (string, error) {
	ts.mu.RLock()
	tmpl := ts.initial
	ts.mu.RUnlock()
	return render(tmpl, data)
}

// RenderUpdate renders the replanning prompt.
func (ts *TemplateSet) RenderUpdate(data promptData) (string, error) {
	ts.mu.RLock()
	tmpl := ts.update
	ts.mu.RUnlock()
	return render(tmpl, data)
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (ts *TemplateSet) load() error {
	initial, err := loadTemplate(ts.dir, "initial.tmpl", defaultInitialTemplate)
	if err != nil {
		return err
	}
	update, err := loadTemplate(ts.dir, "update.tmpl", defaultUpdateTemplate)
	if err != nil {
		return err
	}

	ts.mu.Lock()
	ts.initial = initial
	ts.update = update
	ts.mu.Unlock()
	return nil
}

func loadTemplate(dir, name, fallback string) (*template.Template, error) {
	text := fallback
	if dir != "" {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			text = string(data)
		}
	}
	return template.New(name).Parse(text)
}

func (ts *TemplateSet) run() {
	for {
		select {
		case event, ok := <-ts.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".tmpl") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				ts.scheduleReload()
			}

		case err, ok := <-ts.watcher.Errors:
			if !ok {
				return
			}
			ts.logger.Warn().Err(err).Msg("Template watcher error")

		case <-ts.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of file events into one reload.
func (ts *TemplateSet) scheduleReload() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.timer != nil {
		ts.timer.Stop()
	}
	ts.timer = time.AfterFunc(500*time.Millisecond, func() {
		if err := ts.load(); err != nil {
			ts.logger.Error().Err(err).Msg("Failed to reload planning templates")
			return
		}
		ts.logger.Info().Str("dir", ts.dir).Msg("Planning templates reloaded")
	})
}
