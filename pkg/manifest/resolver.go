package manifest

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/stackdeck/stackdeck/pkg/engine"
)

// Resolve turns a set of raw documents, keyed by identity, into resolved
// stack configurations under the same keys. Every extends chain is merged
// base-first, then each merged document is decoded and validated. The
// function is pure: it fails with a configuration error on a missing base,
// an extends cycle, or an invalid manifest, and never partially succeeds.
func Resolve(docs map[string]Document) (map[string]*engine.StackConfig, error) {
	merged, err := ResolveDocuments(docs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*engine.StackConfig, len(merged))
	for _, id := range sortedKeys(merged) {
		cfg, err := Decode(id, merged[id])
		if err != nil {
			return nil, err
		}
		out[id] = cfg
	}
	return out, nil
}

// ResolveDocuments resolves every extends chain in the document set,
// returning fully merged documents without their extends field. Bases are
// resolved before children (memoized), and a visiting set detects cycles.
func ResolveDocuments(docs map[string]Document) (map[string]Document, error) {
	r := &docResolver{
		docs:     docs,
		resolved: make(map[string]Document, len(docs)),
		visiting: make(map[string]bool),
	}
	out := make(map[string]Document, len(docs))
	for _, id := range sortedKeys(docs) {
		doc, err := r.resolve(id)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, nil
}

type docResolver struct {
	docs     map[string]Document
	resolved map[string]Document
	visiting map[string]bool
	path     []string
}

func (r *docResolver) resolve(id string) (Document, error) {
	if doc, ok := r.resolved[id]; ok {
		return doc, nil
	}
	if r.visiting[id] {
		cycle := append(append([]string(nil), r.path...), id)
		return nil, engine.NewConfigurationError("cyclic extends reference", nil).
			WithStack(id).WithCycle(cycle)
	}
	r.visiting[id] = true
	r.path = append(r.path, id)
	defer func() {
		delete(r.visiting, id)
		r.path = r.path[:len(r.path)-1]
	}()

	doc, ok := r.docs[id]
	if !ok {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("manifest %q is not present in the input set", id), nil)
	}

	bases, own, err := splitExtends(id, doc)
	if err != nil {
		return nil, err
	}

	merged := any(Document{})
	for _, base := range bases {
		if _, ok := r.docs[base]; !ok {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("extended manifest %q was not found", base), nil).WithStack(id)
		}
		baseDoc, err := r.resolve(base)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, map[string]any(baseDoc))
	}
	merged = deepMerge(merged, own)

	result, ok := merged.(map[string]any)
	if !ok {
		return nil, engine.NewConfigurationError("manifest did not merge to a mapping", nil).WithStack(id)
	}
	r.resolved[id] = Document(result)
	return Document(result), nil
}

// splitExtends separates the extends declaration (a string or list of
// strings) from the rest of the document.
func splitExtends(id string, doc Document) ([]string, map[string]any, error) {
	own := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "extends" {
			own[k] = v
		}
	}

	raw, ok := doc["extends"]
	if !ok || raw == nil {
		return nil, own, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, own, nil
	case []any:
		bases := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, nil, engine.NewConfigurationError(
					"extends must be a string or a list of strings", nil).WithStack(id)
			}
			bases = append(bases, s)
		}
		return bases, own, nil
	default:
		return nil, nil, engine.NewConfigurationError(
			"extends must be a string or a list of strings", nil).WithStack(id)
	}
}

// Decode converts a fully merged document into a resolved stack
// configuration, applying defaults and validating required fields and
// parameter binding references.
func Decode(id string, doc Document) (*engine.StackConfig, error) {
	data, err := yaml.Marshal(map[string]any(doc))
	if err != nil {
		return nil, engine.NewConfigurationError("manifest cannot be encoded", err).WithStack(id)
	}
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, engine.NewConfigurationError("manifest has an invalid shape", err).WithStack(id)
	}

	if err := validateManifest(id, &raw); err != nil {
		return nil, err
	}

	cfg := &engine.StackConfig{
		Name:              raw.Stack.Name,
		Description:       raw.Stack.Description,
		TemplateFile:      raw.Stack.Template.File,
		ParameterFile:     raw.Stack.Template.Parameters,
		Subscription:      raw.Stack.Deployment.Subscription == nil || *raw.Stack.Deployment.Subscription,
		ResourceGroup:     raw.Stack.Deployment.ResourceGroup,
		Location:          raw.Stack.Deployment.Location,
		Exports:           raw.Exports,
		ParameterBindings: raw.ParameterBindings,
		ExtraArgs:         raw.Stack.ExtraArgs,
	}
	for _, dep := range raw.Dependencies {
		name := dep.Name
		if name == "" {
			name = dep.StackName
		}
		cfg.Dependencies = append(cfg.Dependencies, engine.DependencyRef{
			Name:      name,
			StackName: dep.StackName,
			Outputs:   dep.Outputs,
		})
	}

	if err := validateBindings(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
