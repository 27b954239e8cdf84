package azure

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stackdeck/stackdeck/pkg/engine"
)

// CommandOptions carries the run-level invocation settings shared by every
// stack in a run. Per-stack settings live on the stack configuration and
// override these where both exist.
type CommandOptions struct {
	// Binary is the CLI executable. Defaults to "az".
	Binary string

	// Location is the default deployment location for subscription-scoped
	// stacks without their own.
	Location string

	// ActionOnUnmanage controls what happens to resources that leave the
	// template. Defaults to "deleteAll".
	ActionOnUnmanage string

	// DenySettingsMode controls the deny assignment applied to stack
	// resources. Defaults to "none".
	DenySettingsMode string

	// ExtraArgs are appended to every invocation after the per-stack extra
	// arguments.
	ExtraArgs []string
}

func (o CommandOptions) withDefaults() CommandOptions {
	if o.Binary == "" {
		o.Binary = "az"
	}
	if o.ActionOnUnmanage == "" {
		o.ActionOnUnmanage = "deleteAll"
	}
	if o.DenySettingsMode == "" {
		o.DenySettingsMode = "none"
	}
	return o
}

// BuildCreateCommand assembles the argv for deploying one stack. Parameter
// overrides are serialized as key=value pairs with JSON-encoded values so
// arrays and objects survive the CLI boundary.
func BuildCreateCommand(cfg *engine.StackConfig, overrides map[string]any, opts CommandOptions) ([]string, error) {
	opts = opts.withDefaults()

	var argv []string
	if cfg.Subscription {
		location := cfg.Location
		if location == "" {
			location = opts.Location
		}
		if location == "" {
			return nil, engine.NewConfigurationError(
				"subscription-scoped stack has no deployment location", nil).WithStack(cfg.Name)
		}
		argv = []string{opts.Binary, "stack", "sub", "create",
			"--name", cfg.Name,
			"--location", location,
		}
	} else {
		if cfg.ResourceGroup == "" {
			return nil, engine.NewConfigurationError(
				"resource-group-scoped stack has no resource group", nil).WithStack(cfg.Name)
		}
		argv = []string{opts.Binary, "stack", "group", "create",
			"--name", cfg.Name,
			"--resource-group", cfg.ResourceGroup,
		}
	}

	argv = append(argv, "--template-file", cfg.TemplateFile)
	if cfg.ParameterFile != "" {
		argv = append(argv, "--parameters", cfg.ParameterFile)
	}
	for _, param := range sortedParams(overrides) {
		encoded, err := encodeParameter(param, overrides[param])
		if err != nil {
			return nil, engine.NewInvokeError(
				fmt.Sprintf("parameter %q cannot be encoded", param), err).WithStack(cfg.Name)
		}
		argv = append(argv, "--parameters", encoded)
	}

	argv = append(argv,
		"--action-on-unmanage", opts.ActionOnUnmanage,
		"--deny-settings-mode", opts.DenySettingsMode,
		"--yes",
	)
	argv = appendExtraArgs(argv, cfg.ExtraArgs)
	argv = appendExtraArgs(argv, opts.ExtraArgs)

	// Exactly one output format: honor the last caller-supplied one, default
	// to json so the result stays machine-readable.
	if !hasOutputFlag(argv) {
		argv = append(argv, "--output", "json")
	}
	return argv, nil
}

// BuildShowCommand assembles the argv for reading a deployed stack back.
func BuildShowCommand(name string, resourceGroup string, opts CommandOptions) []string {
	opts = opts.withDefaults()
	if resourceGroup != "" {
		return []string{opts.Binary, "stack", "group", "show",
			"--name", name, "--resource-group", resourceGroup, "--output", "json"}
	}
	return []string{opts.Binary, "stack", "sub", "show",
		"--name", name, "--output", "json"}
}

// encodeParameter renders one override as key=value with the value JSON
// encoded, except bare strings which the CLI takes verbatim.
func encodeParameter(param string, value any) (string, error) {
	if s, ok := value.(string); ok {
		return param + "=" + s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return param + "=" + string(data), nil
}

// appendExtraArgs appends args, dropping any output flag already present in
// dst so a later source can still override the format.
func appendExtraArgs(dst, args []string) []string {
	for i := 0; i < len(args); i++ {
		if isOutputFlag(args[i]) {
			dst = removeOutputFlag(dst)
		}
		dst = append(dst, args[i])
	}
	return dst
}

// isOutputFlag reports whether the argument selects the az output format, in
// any of its spellings: --output, --output=FMT, -o, -oFMT.
func isOutputFlag(arg string) bool {
	if arg == "--output" || arg == "-o" {
		return true
	}
	if strings.HasPrefix(arg, "--output=") {
		return true
	}
	return strings.HasPrefix(arg, "-o") && !strings.HasPrefix(arg, "--")
}

func hasOutputFlag(argv []string) bool {
	for _, a := range argv {
		if isOutputFlag(a) {
			return true
		}
	}
	return false
}

func hasFlag(argv []string, flag string) bool {
	for _, a := range argv {
		if a == flag {
			return true
		}
	}
	return false
}

// removeOutputFlag drops every output flag from argv, including the separate
// value token of the --output FMT and -o FMT forms.
func removeOutputFlag(argv []string) []string {
	out := argv[:0]
	for i := 0; i < len(argv); i++ {
		if isOutputFlag(argv[i]) {
			if (argv[i] == "--output" || argv[i] == "-o") && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "-") {
				i++
			}
			continue
		}
		out = append(out, argv[i])
	}
	return out
}

// FormatCommand renders an argv for display, quoting arguments that contain
// whitespace or shell metacharacters.
func FormatCommand(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\n\"'$&|;<>(){}*?") {
			quoted, _ := json.Marshal(a)
			parts[i] = string(quoted)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

func sortedParams(overrides map[string]any) []string {
	params := make([]string, 0, len(overrides))
	for p := range overrides {
		params = append(params, p)
	}
	sort.Strings(params)
	return params
}
