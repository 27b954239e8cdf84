package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader reads policy definitions from disk: raw .rego modules or .json
// documents carrying a full Policy.
type Loader struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}
	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}
	p, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*p}, nil
}

// loadFromDirectory loads all .rego and .json files from a directory tree.
// Unreadable files are logged and skipped so one broken file does not take
// down the whole directory.
func (l *Loader) loadFromDirectory(_ context.Context, dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		p, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to load policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch {
	case strings.HasSuffix(path, ".rego"):
		p = parseRegoFile(path, data)
	case strings.HasSuffix(path, ".json"):
		p, err = parseJSONFile(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("policy loaded")
	return p, nil
}

// parseRegoFile wraps a raw Rego module in a Policy. The policy name comes
// from the filename; leading comments become the description.
func parseRegoFile(path string, data []byte) *Policy {
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Metadata:    map[string]any{"source": path},
	}
}

func parseJSONFile(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	return &p, nil
}

// extractDescription collects the leading comment block of a Rego module.
func extractDescription(content string) string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(comment)
			}
		} else if trimmed != "" {
			break
		}
	}
	return b.String()
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// Watch watches the given paths and invokes reloadFn with the freshly loaded
// policy set whenever a policy file changes. Events are debounced.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to watch path")
		}
	}

	go l.processEvents(ctx, paths, reloadFn)
	return nil
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isPolicyFile(event.Name) {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				policies, err := l.LoadFromPaths(ctx, paths)
				if err != nil {
					l.logger.Error().Err(err).Msg("failed to reload policies")
					return
				}
				if err := reloadFn(policies); err != nil {
					l.logger.Error().Err(err).Msg("failed to apply reloaded policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
