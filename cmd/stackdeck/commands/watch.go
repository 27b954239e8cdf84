package commands

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackdeck/stackdeck/pkg/engine"
	"github.com/stackdeck/stackdeck/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		debounce         time.Duration
		noPolicy         bool
		policyPaths      []string
		environment      string
		allowedLocations []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-validate manifests whenever they or the policies change",
		Long: `Watch observes the manifest root and re-runs validation (discovery,
resolution, graph construction, policy gate) on every change, so manifest
authors get immediate feedback while editing. Policy files given with
--policy-dir are watched too and hot-reloaded into the gate. It never
deploys anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			var eng *policy.Engine
			if !noPolicy {
				eng, err = newPolicyEngine(cmd.Context(), logger, policyPaths)
				if err != nil {
					return err
				}
			}
			pctx := &policy.Context{
				Environment:      environment,
				AllowedLocations: allowedLocations,
			}
			return runWatch(cmd, logger, eng, policyPaths, pctx, debounce)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before re-validating after a change")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")
	cmd.Flags().StringSliceVar(&policyPaths, "policy-dir", nil, "additional policy files or directories (.rego, .json), hot-reloaded on change")
	cmd.Flags().StringVar(&environment, "environment", "", "environment name passed to policies")
	cmd.Flags().StringSliceVar(&allowedLocations, "allowed-locations", nil, "locations the allowed-locations policy accepts")
	return cmd
}

func runWatch(cmd *cobra.Command, logger zerolog.Logger, eng *policy.Engine,
	policyPaths []string, pctx *policy.Context, debounce time.Duration) error {
	ctx := cmd.Context()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// fsnotify does not recurse, so register every directory under the root
	// and pick up new ones as they appear.
	addTree := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
	}
	if err := addTree(manifestRoot); err != nil {
		return fmt.Errorf("failed to watch %s: %w", manifestRoot, err)
	}

	revalidate := func() {
		g, configs, err := buildGraph(logger)
		if err != nil {
			logger.Error().Err(err).Msg("validation failed")
			return
		}
		logger.Info().Int("stacks", len(configs)).Msg("manifests valid")
		printer := newPrinter()
		printer.DependencySummary(g)

		if eng == nil {
			return
		}
		plan, err := engine.NewPlan(g, nil, false)
		if err != nil {
			logger.Error().Err(err).Msg("planning failed")
			return
		}
		res, err := evaluateGate(ctx, eng, configs, plan, pctx)
		if err != nil {
			logger.Error().Err(err).Msg("policy evaluation failed")
			return
		}
		printer.PolicyResult(res)
		if res.Allowed {
			logger.Info().Int("policies", len(res.EvaluatedPolicies)).Msg("policy gate passed")
		} else {
			logger.Error().Int("violations", len(res.Violations)).Msg("policy gate rejected the manifests")
		}
	}

	// Policy files get their own watcher: a changed .rego is compiled and
	// swapped into the running engine, then the gate re-runs.
	if eng != nil && len(policyPaths) > 0 {
		loader := policy.NewLoader(logger)
		err := loader.Watch(ctx, policyPaths, func(policies []policy.Policy) error {
			if err := eng.Apply(policies); err != nil {
				return err
			}
			logger.Info().Int("policies", len(policies)).Msg("policies reloaded")
			revalidate()
			return nil
		})
		if err != nil {
			return err
		}
		defer loader.StopWatching()
	}

	logger.Info().Str("root", manifestRoot).Msg("watching for manifest changes")
	revalidate()

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				// New directories need their own watch registration.
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addTree(ev.Name)
				}
			}
			if !relevantChange(ev) {
				continue
			}
			logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("manifest change detected")
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watch error")

		case <-timerC:
			timer = nil
			timerC = nil
			revalidate()
		}
	}
}

// relevantChange filters out editor noise: only yaml, bicep, and parameter
// files trigger re-validation.
func relevantChange(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".yaml", ".yml", ".bicep", ".json":
		return true
	}
	return false
}
