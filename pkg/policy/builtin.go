package policy

// BuiltinPolicies returns the policies every installation starts with. They
// cover the mistakes that most often reach review: stack names that break
// downstream tooling, deployments landing in unapproved regions, and
// dependency contracts that can never be satisfied.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "stack-naming",
			Description: "Stack names must be lowercase alphanumeric with hyphens",
			Severity:    SeverityError,
			Enabled:     true,
			Rego: `package stackdeck.policies.naming

# Stack names become Azure deployment stack names and flow into resource
# names; anything outside this alphabet breaks templating downstream.

deny contains msg if {
	some stack in input.stacks
	not regex.match("^[a-z][a-z0-9-]*$", stack.name)
	msg := sprintf("stack %q: name must match ^[a-z][a-z0-9-]*$", [stack.name])
}

deny contains msg if {
	some stack in input.stacks
	count(stack.name) > 57
	msg := sprintf("stack %q: name exceeds 57 characters", [stack.name])
}
`,
		},
		{
			Name:        "allowed-locations",
			Description: "Subscription-scoped stacks must deploy to an approved location",
			Severity:    SeverityError,
			Enabled:     true,
			Rego: `package stackdeck.policies.locations

# Only active when the run declares an allowlist.

deny contains msg if {
	count(input.context.allowed_locations) > 0
	some stack in input.stacks
	stack.subscription
	loc := object.get(stack, "location", object.get(input.context, "default_location", ""))
	not loc in input.context.allowed_locations
	msg := sprintf("stack %q: location %q is not in the allowed set %v", [stack.name, loc, input.context.allowed_locations])
}
`,
		},
		{
			Name:        "export-contract",
			Description: "Consumed outputs should come from stacks that export something",
			Severity:    SeverityWarning,
			Enabled:     true,
			Rego: `package stackdeck.policies.exports

# A dependency declaring outputs against a producer with no exports usually
# means the producer manifest forgot its exports block. Raw output keys may
# still resolve at run time, hence a warning rather than an error.

deny contains msg if {
	some stack in input.stacks
	some dep in stack.dependencies
	count(object.get(dep, "outputs", {})) > 0
	some target in input.stacks
	target.name == dep.stack_name
	count(object.get(target, "exports", {})) == 0
	msg := sprintf("stack %q consumes outputs of %q, which exports nothing", [stack.name, dep.stack_name])
}
`,
		},
	}
}
