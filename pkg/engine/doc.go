// Package engine implements the deployment orchestration core: dependency
// graph construction over resolved stack configurations, topological
// scheduling under bounded parallelism, output propagation between stacks,
// and the partial-failure policy that decides how much of a run survives a
// failed deployment.
//
// The engine does not locate manifests, validate them against a schema, or
// talk to any cloud API. It receives resolved StackConfig values (see
// pkg/manifest) and an Invoker that performs the actual provisioning side
// effect, and drives the run to completion:
//
//	Graph -> ExecutionPlan -> Scheduler -> RunReport
//
// All shared scheduler state (ready queue, node states, fan-in counters,
// output cache) is guarded by a single mutex; the only blocking operation in
// the system is the Invoker call itself.
package engine
