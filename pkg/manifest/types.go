package manifest

// Document is a raw manifest as decoded from YAML, prior to extends
// resolution. Documents are treated as immutable once loaded.
type Document map[string]any

// rawManifest is the typed shape of a fully merged document. It exists only
// as a decode target; the resolved form handed to the engine is
// engine.StackConfig.
type rawManifest struct {
	Stack             rawStack          `yaml:"stack" json:"stack" validate:"required"`
	Dependencies      []rawDependency   `yaml:"dependencies" json:"dependencies" validate:"dive"`
	Exports           map[string]string `yaml:"exports" json:"exports"`
	ParameterBindings map[string]string `yaml:"parameterBindings" json:"parameterBindings"`
}

type rawStack struct {
	Name        string        `yaml:"name" json:"name" validate:"required"`
	Description string        `yaml:"description" json:"description"`
	Template    rawTemplate   `yaml:"template" json:"template"`
	Deployment  rawDeployment `yaml:"deployment" json:"deployment"`
	ExtraArgs   []string      `yaml:"extraArgs" json:"extraArgs"`
}

type rawTemplate struct {
	File       string `yaml:"file" json:"file" validate:"required"`
	Parameters string `yaml:"parameters" json:"parameters"`
}

type rawDeployment struct {
	// Subscription defaults to true when omitted.
	Subscription  *bool  `yaml:"subscription" json:"subscription"`
	ResourceGroup string `yaml:"resourceGroup" json:"resourceGroup"`
	Location      string `yaml:"location" json:"location"`
}

type rawDependency struct {
	// Name is the local alias; defaults to StackName.
	Name      string            `yaml:"name" json:"name"`
	StackName string            `yaml:"stackName" json:"stackName" validate:"required"`
	Outputs   map[string]string `yaml:"outputs" json:"outputs"`
}
