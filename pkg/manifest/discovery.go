package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/stackdeck/stackdeck/pkg/engine"
)

// overlayMarker is the path segment that marks a manifest as an
// environment-specific overlay. When two manifests resolve to the same stack
// name, the overlay wins over the shared base.
const overlayMarker = "environments"

// Repository discovers manifests on disk under a root directory. Discovered
// documents are keyed by their slash-separated path relative to the root;
// extends references are rewritten to those keys so resolution stays pure.
type Repository struct {
	root    string
	pattern string
	logger  zerolog.Logger
}

// NewRepository creates a repository rooted at root. The pattern is a
// slash-separated glob relative to root and may contain "**" to match any
// number of directories, e.g. "**/stack.yaml".
func NewRepository(root, pattern string, logger zerolog.Logger) *Repository {
	return &Repository{root: root, pattern: pattern, logger: logger}
}

// Load discovers, resolves, and validates every manifest matching the
// repository pattern, returning stack configurations keyed by stack name.
func (r *Repository) Load() (map[string]*engine.StackConfig, error) {
	discovered, err := r.discover()
	if err != nil {
		return nil, err
	}
	if len(discovered) == 0 {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("no manifests matching %q under %s", r.pattern, r.root), nil)
	}

	docs := make(map[string]Document, len(discovered))
	for _, key := range discovered {
		if err := r.load(key, docs); err != nil {
			return nil, err
		}
	}

	merged, err := ResolveDocuments(docs)
	if err != nil {
		return nil, err
	}

	// Only documents matched by the glob become deployable stacks; extra
	// documents pulled in through extends are bases and stay abstract.
	byName := make(map[string]*engine.StackConfig, len(discovered))
	sources := make(map[string]string, len(discovered))
	for _, key := range discovered {
		cfg, err := Decode(key, merged[key])
		if err != nil {
			return nil, err
		}
		cfg.ManifestPath = filepath.Join(r.root, filepath.FromSlash(key))
		cfg.Dir = filepath.Dir(cfg.ManifestPath)

		if prev, ok := sources[cfg.Name]; ok {
			winner, err := pickOverlay(cfg.Name, prev, key)
			if err != nil {
				return nil, err
			}
			r.logger.Debug().Str("stack", cfg.Name).
				Str("base", prev).Str("overlay", winner).
				Msg("duplicate stack name resolved to overlay manifest")
			if winner != key {
				continue
			}
		}
		sources[cfg.Name] = key
		byName[cfg.Name] = cfg
	}

	for _, name := range sortedKeys(byName) {
		if err := checkFiles(byName[name]); err != nil {
			return nil, err
		}
	}
	return byName, nil
}

// discover walks the root and returns the sorted relative keys of every file
// matching the pattern.
func (r *Repository) discover() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if matchGlob(r.pattern, key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, engine.NewConfigurationError("manifest discovery failed", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// load reads the manifest at key into docs, absolutizes its template paths,
// rewrites its extends references to repository keys, and recursively loads
// any extended manifests not yet present.
func (r *Repository) load(key string, docs map[string]Document) error {
	if _, ok := docs[key]; ok {
		return nil
	}

	full := filepath.Join(r.root, filepath.FromSlash(key))
	data, err := os.ReadFile(full)
	if err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("cannot read manifest %s", full), err)
	}
	// Decode into a plain map so nested mappings come back as map[string]any;
	// decoding straight into Document makes yaml produce nested Document
	// values, which the map[string]any assertions below would not match.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("cannot parse manifest %s", full), err)
	}
	doc := Document(raw)
	if doc == nil {
		doc = Document{}
	}

	// Template paths are relative to the manifest that declares them; make
	// them absolute before merge so a child inheriting a base template still
	// points at the base's file.
	absolutizeTemplate(doc, filepath.Dir(full))

	bases, _, err := splitExtends(key, doc)
	if err != nil {
		return err
	}
	if len(bases) > 0 {
		rewritten := make([]any, 0, len(bases))
		dir := path.Dir(key)
		for _, base := range bases {
			baseKey := path.Clean(path.Join(dir, base))
			rewritten = append(rewritten, baseKey)
			if err := r.load(baseKey, docs); err != nil {
				return err
			}
		}
		doc["extends"] = rewritten
	}

	docs[key] = doc
	r.logger.Debug().Str("manifest", key).Msg("manifest loaded")
	return nil
}

// absolutizeTemplate rewrites stack.template.file and
// stack.template.parameters to absolute paths rooted at dir.
func absolutizeTemplate(doc Document, dir string) {
	stack, ok := doc["stack"].(map[string]any)
	if !ok {
		return
	}
	tmpl, ok := stack["template"].(map[string]any)
	if !ok {
		return
	}
	for _, field := range []string{"file", "parameters"} {
		if p, ok := tmpl[field].(string); ok && p != "" && !filepath.IsAbs(p) {
			tmpl[field] = filepath.Join(dir, filepath.FromSlash(p))
		}
	}
}

// pickOverlay decides which of two manifests claiming the same stack name
// survives: exactly one must sit under an environments overlay directory.
func pickOverlay(name, a, b string) (string, error) {
	aOverlay := isOverlay(a)
	bOverlay := isOverlay(b)
	switch {
	case aOverlay && !bOverlay:
		return a, nil
	case bOverlay && !aOverlay:
		return b, nil
	default:
		return "", engine.NewConfigurationError(
			fmt.Sprintf("stack %q is defined by both %s and %s", name, a, b), nil).WithStack(name)
	}
}

func isOverlay(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == overlayMarker {
			return true
		}
	}
	return false
}

// checkFiles verifies the template and parameter files a resolved stack
// references actually exist.
func checkFiles(cfg *engine.StackConfig) error {
	if _, err := os.Stat(cfg.TemplateFile); err != nil {
		return engine.NewConfigurationError(
			fmt.Sprintf("template file %s does not exist", cfg.TemplateFile), err).WithStack(cfg.Name)
	}
	if cfg.ParameterFile != "" {
		if _, err := os.Stat(cfg.ParameterFile); err != nil {
			return engine.NewConfigurationError(
				fmt.Sprintf("parameter file %s does not exist", cfg.ParameterFile), err).WithStack(cfg.Name)
		}
	}
	return nil
}

// matchGlob matches a slash-separated name against a slash-separated glob
// where "**" matches any number of path segments, including none.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			if matchSegments(pattern[1:], name) {
				return true
			}
			if len(name) == 0 {
				return false
			}
			name = name[1:]
			continue
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0
}
