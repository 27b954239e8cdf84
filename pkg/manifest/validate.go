package manifest

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stackdeck/stackdeck/pkg/engine"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateManifest checks the structural requirements of a merged manifest:
// required fields, dependency shape, and alias uniqueness.
func validateManifest(id string, raw *rawManifest) error {
	if err := validate.Struct(raw); err != nil {
		return engine.NewConfigurationError(
			fmt.Sprintf("manifest %q failed validation", id), err).WithStack(raw.Stack.Name)
	}

	seen := make(map[string]bool, len(raw.Dependencies))
	for _, dep := range raw.Dependencies {
		alias := dep.Name
		if alias == "" {
			alias = dep.StackName
		}
		if seen[alias] {
			return engine.NewConfigurationError(
				fmt.Sprintf("duplicate dependency alias %q", alias), nil).WithStack(raw.Stack.Name)
		}
		seen[alias] = true
	}
	return nil
}

// validateBindings verifies every parameter binding references a declared
// dependency alias in the form "alias.outputKey". Undeclared aliases are
// rejected here, at resolve time, rather than surfacing mid-run.
func validateBindings(cfg *engine.StackConfig) error {
	if len(cfg.ParameterBindings) == 0 {
		return nil
	}

	aliases := make(map[string]bool, len(cfg.Dependencies))
	for _, dep := range cfg.Dependencies {
		aliases[dep.Name] = true
	}

	for _, param := range sortedKeys(cfg.ParameterBindings) {
		ref := cfg.ParameterBindings[param]
		alias, key, ok := strings.Cut(ref, ".")
		if !ok || alias == "" || key == "" {
			return engine.NewConfigurationError(
				fmt.Sprintf("parameter binding %q must have the form \"alias.outputKey\", got %q", param, ref),
				nil).WithStack(cfg.Name)
		}
		if !aliases[alias] {
			declared := sortedKeys(aliases)
			return engine.NewConfigurationError(
				fmt.Sprintf("parameter binding %q references undeclared dependency %q (declared: %s)",
					param, alias, strings.Join(declared, ", ")),
				nil).WithStack(cfg.Name)
		}
	}
	return nil
}
