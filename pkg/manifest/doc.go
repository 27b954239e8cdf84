// Package manifest loads and resolves stack manifests: YAML documents that
// declare a deployable stack, its template, its dependencies on other
// stacks, and the outputs it exports to them.
//
// A manifest may extend one or more base manifests; resolution deep-merges
// the chain (base first, child fields winning) into a single
// engine.StackConfig per stack. Resolution is pure and deterministic:
// resolving the same document set twice yields identical results.
package manifest
