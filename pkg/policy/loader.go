package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	regoExt   = ".rego"
	bundleExt = ".json"
)

// Loader reads gate policies from .rego modules and .json bundles. Parsed
// modules are cached by path until the file changes under Watch or the
// cache is cleared.
type Loader struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	modules map[string]Policy

	watcher *fsnotify.Watcher

	// reloadDelay debounces bursts of file events.
	reloadDelay time.Duration
}

// NewLoader returns a loader logging through logger.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		modules:     make(map[string]Policy),
		reloadDelay: 500 * time.Millisecond,
	}
}

// LoadFromPaths loads every policy file named by paths. Directories are
// walked recursively and files other than .rego and .json are ignored.
// Files load in lexical order within each path.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var loaded []Policy
	for _, root := range paths {
		files, err := policyFiles(root)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", root, err)
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			policies, err := l.load(ctx, file)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", root, err)
			}
			loaded = append(loaded, policies...)
		}
	}

	l.logger.Debug().
		Int("total", len(loaded)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")
	return loaded, nil
}

// policyFiles lists the policy files under root. A root naming a file is
// returned as is, whatever its extension, so load can reject it.
func policyFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPolicyFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case regoExt, bundleExt:
		return true
	}
	return false
}

func (l *Loader) load(ctx context.Context, path string) ([]Policy, error) {
	switch filepath.Ext(path) {
	case bundleExt:
		bundle, err := l.LoadBundle(ctx, path)
		if err != nil {
			return nil, err
		}
		return bundle.Policies, nil
	case regoExt:
		p, err := l.module(path)
		if err != nil {
			return nil, err
		}
		return []Policy{p}, nil
	}
	return nil, fmt.Errorf("unsupported file type: %s", path)
}

func (l *Loader) module(path string) (Policy, error) {
	l.mu.RLock()
	p, ok := l.modules[path]
	l.mu.RUnlock()
	if ok {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read file: %w", err)
	}
	p = parseModule(path, string(data))

	l.mu.Lock()
	l.modules[path] = p
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Str("policy", p.Name).
		Str("severity", string(p.Severity)).
		Msg("Policy loaded from file")
	return p, nil
}

// parseModule turns a .rego file into a policy named after the file. The
// comment block at the top of the file is its header: "severity:",
// "tags:" and "disabled" lines set those fields and every other comment
// line joins the description.
//
//	# Blocks drop actions on database hosts.
//	# severity: warning
//	# tags: db, safety
//	package yodler.deploy
func parseModule(path, content string) Policy {
	p := Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), regoExt),
		Rego:     content,
		Severity: SeverityError,
		Enabled:  true,
		Source:   path,
	}

	var desc []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if text == "" {
			continue
		}
		if !applyDirective(&p, text) {
			desc = append(desc, text)
		}
	}
	p.Description = strings.Join(desc, " ")
	return p
}

func applyDirective(p *Policy, text string) bool {
	if strings.EqualFold(text, "disabled") {
		p.Enabled = false
		return true
	}
	key, val, ok := strings.Cut(text, ":")
	if !ok {
		return false
	}
	val = strings.TrimSpace(val)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "severity":
		switch s := Severity(strings.ToLower(val)); s {
		case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
			p.Severity = s
			return true
		}
	case "tags":
		for _, tag := range strings.Split(val, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				p.Tags = append(p.Tags, tag)
			}
		}
		return true
	}
	return false
}

// LoadBundle reads a JSON policy bundle. Policies without a severity
// default to error and every policy records the bundle as its source.
func (l *Loader) LoadBundle(_ context.Context, path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	for i := range bundle.Policies {
		p := &bundle.Policies[i]
		if p.Severity == "" {
			p.Severity = SeverityError
		}
		p.Source = path
	}

	l.logger.Debug().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).
		Msg("Policy bundle loaded")
	return &bundle, nil
}

// Watch calls reloadFn with a fresh load of paths after any policy file
// under them is written or created. Bursts of events collapse into one
// reload. Watch returns once the watcher is set up and stops when ctx is
// done or StopWatching is called. Paths that cannot be watched are logged
// and skipped.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, root := range paths {
		if err := addWatches(watcher, root); err != nil {
			l.logger.Warn().Err(err).Str("path", root).Msg("Failed to watch policy path")
		}
	}

	go l.watch(ctx, watcher, func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = reloadFn(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to reload policies")
			return
		}
		l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded successfully")
	})

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

// addWatches watches root itself when it is a file, else every directory
// below it.
func addWatches(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (l *Loader) watch(ctx context.Context, w *fsnotify.Watcher, reload func()) {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) || !isPolicyFile(ev.Name) {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Policy file changed")

			l.mu.Lock()
			delete(l.modules, ev.Name)
			l.mu.Unlock()

			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(l.reloadDelay, reload)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

// StopWatching closes the watcher started by Watch.
func (l *Loader) StopWatching() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// ClearCache drops every cached module so the next load rereads them.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.modules = make(map[string]Policy)
	l.mu.Unlock()
}
