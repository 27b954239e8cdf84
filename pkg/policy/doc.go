// Package policy gates deployment plans with Open Policy Agent rules. Before
// the scheduler runs, the resolved stack set is handed to every loaded Rego
// policy; error-severity findings block the run, warnings are reported and
// let it proceed.
//
// Policies query the deny set of their package against an input document of
// the form {"stacks": [...], "context": {...}}. Built-in policies ship in
// builtin.go; additional .rego or .json files load from disk via Loader.
package policy
