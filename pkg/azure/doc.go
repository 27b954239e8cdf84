// Package azure invokes Azure deployment stacks through the az CLI. It
// implements the engine's Invoker and OutputFetcher contracts: building
// "az stack" command lines from resolved stack configurations, executing
// them, and reading deployed stack outputs back for parameter bindings.
package azure
