package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler drives an ExecutionPlan to completion: a Kahn's-algorithm
// topological walk augmented with a bounded worker pool. Shared state is
// owned by the run loop goroutine; workers communicate results over a
// channel, so no per-node locking is needed.
type Scheduler struct {
	invoker Invoker
	cache   *OutputCache
	events  EventPublisher
	logger  zerolog.Logger
}

// SchedulerOptions configures one run. Process-wide toggles (the dependency
// skip environment override, the failure policy) are resolved by the caller
// and passed here explicitly so multiple plans with different policies can
// run in the same process.
type SchedulerOptions struct {
	// Concurrency is the maximum number of stacks deploying at once.
	// Values below 1 are treated as 1 (fully sequential).
	Concurrency int

	// Policy selects the reaction to a failed stack. Defaults to
	// StopOnFailure.
	Policy FailurePolicy

	// RunID identifies the run; generated when empty.
	RunID string
}

// NewScheduler creates a scheduler. The cache may be pre-seeded with
// out-of-band outputs for skipped dependencies; pass nil to start empty.
func NewScheduler(invoker Invoker, cache *OutputCache, events EventPublisher, logger zerolog.Logger) *Scheduler {
	if cache == nil {
		cache = NewOutputCache()
	}
	return &Scheduler{
		invoker: invoker,
		cache:   cache,
		events:  events,
		logger:  logger,
	}
}

// Cache returns the output cache used by this scheduler.
func (s *Scheduler) Cache() *OutputCache {
	return s.cache
}

type invokeResult struct {
	idx int
	rec *OutputRecord
	err error
}

// Run executes the plan and returns the per-node report. The returned error
// is non-nil only for invariant violations; node-level failures are reported
// through node states, never by crashing the run.
func (s *Scheduler) Run(ctx context.Context, plan *ExecutionPlan, opts SchedulerOptions) (*RunReport, error) {
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	policy := opts.Policy
	if policy == "" {
		policy = StopOnFailure
	}
	if err := policy.Validate(); err != nil {
		return nil, NewConfigurationError("invalid failure policy", err)
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	g := plan.Graph
	inPlan := make(map[int]bool, len(plan.Nodes))
	planPos := make(map[int]int, len(plan.Nodes))
	for pos, i := range plan.Nodes {
		inPlan[i] = true
		planPos[i] = pos
	}

	// Readiness counters consider only edges inside the plan; out-of-plan
	// dependencies were deliberately excluded and are bypassed.
	for _, i := range plan.Nodes {
		node := g.NodeAt(i)
		node.State = NodePending
		node.FanIn = 0
		for _, j := range node.Dependencies {
			if inPlan[j] {
				node.FanIn++
			}
		}
	}

	var queue []int
	enqueue := func(i int) {
		g.NodeAt(i).State = NodeReady
		queue = append(queue, i)
		sort.Slice(queue, func(a, b int) bool { return planPos[queue[a]] < planPos[queue[b]] })
	}
	for _, i := range plan.Nodes {
		if g.NodeAt(i).FanIn == 0 {
			enqueue(i)
		}
	}

	logger := s.logger.With().Str("run_id", runID).Logger()
	resolver := NewBindingResolver(s.cache, plan)
	results := make(chan invokeResult)
	running := 0
	halted := false
	startedAt := time.Now()

	s.publish(ctx, Event{Type: EventRunStarted, RunID: runID,
		Message: fmt.Sprintf("deploying %d stacks (concurrency %d)", len(plan.Nodes), limit)})

	start := func(i int) {
		node := g.NodeAt(i)
		node.State = NodeRunning
		node.StartedAt = time.Now()
		running++
		logger.Info().Str("stack", node.Name).Msg("deploying stack")
		s.publish(ctx, Event{Type: EventStackStarted, RunID: runID, Stack: node.Name,
			Message: "deployment started"})
		go func() {
			overrides, err := resolver.Resolve(node)
			if err != nil {
				results <- invokeResult{idx: i, err: err}
				return
			}
			rec, err := s.invoker.Deploy(ctx, node.Config, overrides)
			results <- invokeResult{idx: i, rec: rec, err: err}
		}()
	}

	done := ctx.Done()
	for {
		// Fill free worker slots from the ready queue unless the run has
		// been halted by the failure policy or by cancellation.
		for !halted && running < limit && len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			start(i)
		}
		if running == 0 {
			break
		}

		select {
		case <-done:
			// Stop launching; in-flight invocations run to their natural
			// completion.
			halted = true
			done = nil
			continue
		case res := <-results:
			running--
			node := g.NodeAt(res.idx)
			node.CompletedAt = time.Now()

			if res.err != nil {
				node.State = NodeFailed
				node.Err = res.err
				logger.Error().Str("stack", node.Name).Err(res.err).Msg("stack deployment failed")
				s.publish(ctx, Event{Type: EventStackFailed, RunID: runID, Stack: node.Name,
					Message: res.err.Error()})
				switch policy {
				case StopOnFailure:
					halted = true
				case ContinueAndIsolate:
					s.blockDependents(ctx, g, res.idx, inPlan, runID, logger)
				}
				continue
			}

			node.State = NodeSucceeded
			if res.rec != nil {
				s.cache.Record(res.rec)
			}
			logger.Info().Str("stack", node.Name).
				Dur("duration", node.CompletedAt.Sub(node.StartedAt)).
				Msg("stack deployed")
			s.publish(ctx, Event{Type: EventStackSucceeded, RunID: runID, Stack: node.Name,
				Message: "deployment succeeded"})

			for _, j := range node.Dependents {
				if !inPlan[j] {
					continue
				}
				dep := g.NodeAt(j)
				if dep.State != NodePending {
					continue
				}
				dep.FanIn--
				if dep.FanIn == 0 {
					enqueue(j)
				}
			}
		}
	}

	// Whatever did not reach a terminal state was prevented from running by
	// a failure upstream or by the stop policy.
	for _, i := range plan.Nodes {
		node := g.NodeAt(i)
		if !node.State.IsTerminal() {
			node.State = NodeBlocked
			s.publish(ctx, Event{Type: EventStackBlocked, RunID: runID, Stack: node.Name,
				Message: "blocked by earlier failure"})
		}
	}

	report := s.buildReport(plan, runID, startedAt)
	if report.OK() {
		s.publish(ctx, Event{Type: EventRunCompleted, RunID: runID,
			Message: fmt.Sprintf("all %d stacks deployed", report.Summary.Total)})
	} else {
		s.publish(ctx, Event{Type: EventRunFailed, RunID: runID,
			Message: fmt.Sprintf("%d failed, %d blocked", report.Summary.Failed, report.Summary.Blocked)})
	}
	return report, nil
}

// blockDependents marks every in-plan transitive dependent of a failed node
// as Blocked so it never executes. Independent branches are untouched.
func (s *Scheduler) blockDependents(ctx context.Context, g *Graph, failed int, inPlan map[int]bool, runID string, logger zerolog.Logger) {
	for _, j := range g.TransitiveDependents(failed) {
		if !inPlan[j] {
			continue
		}
		node := g.NodeAt(j)
		if node.State.IsTerminal() || node.State == NodeRunning {
			continue
		}
		node.State = NodeBlocked
		logger.Warn().Str("stack", node.Name).
			Str("failed_dependency", g.NodeAt(failed).Name).
			Msg("stack blocked by failed dependency")
		s.publish(ctx, Event{Type: EventStackBlocked, RunID: runID, Stack: node.Name,
			Message: fmt.Sprintf("dependency %s failed", g.NodeAt(failed).Name)})
	}
}

func (s *Scheduler) buildReport(plan *ExecutionPlan, runID string, startedAt time.Time) *RunReport {
	report := &RunReport{
		RunID:     runID,
		StartedAt: startedAt,
	}
	for _, i := range plan.Nodes {
		node := plan.Graph.NodeAt(i)
		nr := NodeReport{Name: node.Name, State: node.State}
		if node.Err != nil {
			nr.Error = node.Err.Error()
		}
		if !node.StartedAt.IsZero() && !node.CompletedAt.IsZero() {
			nr.Duration = node.CompletedAt.Sub(node.StartedAt)
		}
		report.Nodes = append(report.Nodes, nr)

		report.Summary.Total++
		switch node.State {
		case NodeSucceeded:
			report.Summary.Succeeded++
		case NodeFailed:
			report.Summary.Failed++
		case NodeBlocked:
			report.Summary.Blocked++
		case NodeSkipped:
			report.Summary.Skipped++
		}
	}

	// Dependencies excluded by dependency-skipping never execute but are part
	// of the run's story; report them as Skipped so the summary accounts for
	// every stack the plan touches.
	for _, name := range plan.ExternalDependencies() {
		report.Nodes = append(report.Nodes, NodeReport{Name: name, State: NodeSkipped})
		report.Summary.Total++
		report.Summary.Skipped++
	}

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	return report
}

func (s *Scheduler) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	ev.Timestamp = time.Now()
	s.events.Publish(ctx, ev)
}
