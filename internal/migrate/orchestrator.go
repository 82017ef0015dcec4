// Package migrate drives the generate/verify/self-heal loop that turns
// indexed legacy chunks into verified Go packages.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GughanS/erpnext-ast-analyzer/internal/backoff"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// State is the orchestrator's position in the migration loop for one unit.
type State int

const (
	StateGenerate State = iota
	StateVerify
	StateHeal
	StateDonePass
	StateDoneFail
)

func (s State) String() string {
	switch s {
	case StateGenerate:
		return "GENERATE"
	case StateVerify:
		return "VERIFY"
	case StateHeal:
		return "HEAL"
	case StateDonePass:
		return "DONE_PASS"
	case StateDoneFail:
		return "DONE_FAIL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Generator produces and repairs Go code from legacy sources.
type Generator interface {
	GenerateImplementation(ctx context.Context, name, source, contextBlock string, callEdges, sideEffects []string) (string, error)
	GenerateTests(ctx context.Context, name, implementation string) (string, error)
	FixCode(ctx context.Context, code, diagnostics string) (string, error)
}

// Verifier checks a generated package and reports the tool output.
type Verifier interface {
	Verify(ctx context.Context, dir string) (passed bool, output string, err error)
}

// Unit is one legacy chunk selected for migration.
type Unit struct {
	Name        string
	Source      string
	CallEdges   []string
	SideEffects []string
	Context     string // retrieved related code, may be empty
}

// Result is the terminal outcome for one unit. Dir holds the generated
// package and its migration_report.md regardless of outcome.
type Result struct {
	Unit   Unit
	State  State
	Report *Report
	Dir    string
	Err    error // generation-side failure, nil for a clean PASSED/FAILED
}

// Orchestrator runs migration units through the state machine. Each unit
// gets at most MaxRounds verification rounds with a self-heal attempt
// between consecutive rounds.
type Orchestrator struct {
	gen       Generator
	verifier  Verifier
	outDir    string
	maxRounds int
	workers   int
	log       zerolog.Logger
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	OutDir    string // defaults to "migrated"
	MaxRounds int    // defaults to 3
	Workers   int    // parallel units in MigrateAll, defaults to 2
}

func New(gen Generator, verifier Verifier, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.OutDir == "" {
		opts.OutDir = "migrated"
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	return &Orchestrator{
		gen:       gen,
		verifier:  verifier,
		outDir:    opts.OutDir,
		maxRounds: opts.MaxRounds,
		workers:   opts.Workers,
		log:       log,
	}
}

// Migrate runs one unit to a terminal state and writes the generated package
// plus its report under the output directory.
func (o *Orchestrator) Migrate(ctx context.Context, unit Unit) Result {
	report := NewReport(unit.Name)
	pkg := PackageDirName(unit.Name)
	dir := filepath.Join(o.outDir, pkg)
	res := Result{Unit: unit, Report: report, Dir: dir}

	report.Log("Started migration for %s", unit.Name)
	o.log.Info().Str("unit", unit.Name).Msg("migration started")

	state := StateGenerate
	implPath := filepath.Join(dir, pkg+".go")
	testPath := filepath.Join(dir, pkg+"_test.go")
	round := 0
	var output string

	for {
		switch state {
		case StateGenerate:
			impl, err := o.gen.GenerateImplementation(ctx, unit.Name, unit.Source, unit.Context, unit.CallEdges, unit.SideEffects)
			if err != nil {
				state = o.failGeneration(&res, err)
				continue
			}
			tests, err := o.gen.GenerateTests(ctx, unit.Name, impl)
			if err != nil {
				state = o.failGeneration(&res, err)
				continue
			}
			if err := writeArtifacts(dir, map[string]string{implPath: impl, testPath: tests}); err != nil {
				res.Err = err
				state = StateDoneFail
				continue
			}
			report.Log("Initial code generated and saved")
			state = StateVerify

		case StateVerify:
			round++
			report.Log("Verification Round %d started", round)
			passed, out, err := o.verifier.Verify(ctx, dir)
			if err != nil {
				res.Err = fmt.Errorf("verify round %d: %w", round, err)
				state = StateDoneFail
				continue
			}
			output = out
			if passed {
				report.Log("Round %d: PASSED", round)
				report.FinalOutput = output
				state = StateDonePass
				continue
			}
			report.Log("Round %d: FAILED", round)
			report.LastDiagnostic = output
			report.FinalOutput = output
			if round >= o.maxRounds {
				report.Log("Max retries reached or error not fixable")
				state = StateDoneFail
				continue
			}
			state = StateHeal

		case StateHeal:
			report.Log("Attempting self-healing for Round %d errors", round)
			target := implPath
			if strings.Contains(output, pkg+"_test.go") {
				target = testPath
			}
			current, err := os.ReadFile(target)
			if err != nil {
				res.Err = err
				state = StateDoneFail
				continue
			}
			fixed, err := o.gen.FixCode(ctx, string(current), output)
			if err != nil {
				state = o.failGeneration(&res, err)
				continue
			}
			if err := os.WriteFile(target, []byte(fixed), 0o644); err != nil {
				res.Err = err
				state = StateDoneFail
				continue
			}
			report.Log("Applied fixes")
			state = StateVerify

		case StateDonePass:
			report.Status = "PASSED"
			res.State = StateDonePass
			o.finish(&res)
			return res

		case StateDoneFail:
			report.Status = "FAILED"
			// A failed report always names its reason: verifier output when a
			// round failed, otherwise the generation-side error that ended the
			// run.
			if res.Err != nil && report.LastDiagnostic == "" {
				report.LastDiagnostic = res.Err.Error()
			}
			if res.Err != nil && report.FinalOutput == "" {
				report.FinalOutput = res.Err.Error()
			}
			res.State = StateDoneFail
			o.finish(&res)
			return res
		}
	}
}

// failGeneration records a generation-side failure and resolves the next
// state. Hard exhaustion of the credential pool is terminal immediately:
// another heal round would hit the same wall.
func (o *Orchestrator) failGeneration(res *Result, err error) State {
	res.Err = err
	if errors.Is(err, backoff.ErrHardExhaustion) {
		res.Report.Log("Max retries reached or error not fixable")
		o.log.Error().Err(err).Str("unit", res.Unit.Name).Msg("generation capacity exhausted")
	} else {
		o.log.Error().Err(err).Str("unit", res.Unit.Name).Msg("generation failed")
	}
	return StateDoneFail
}

func (o *Orchestrator) finish(res *Result) {
	o.log.Info().
		Str("unit", res.Unit.Name).
		Str("state", res.State.String()).
		Msg("migration finished")
	reportPath := filepath.Join(res.Dir, "migration_report.md")
	if err := writeArtifacts(res.Dir, map[string]string{reportPath: res.Report.Render()}); err != nil {
		o.log.Warn().Err(err).Str("unit", res.Unit.Name).Msg("writing migration report failed")
	}
}

// MigrateAll runs units in parallel under a bounded worker pool. A failed
// unit never aborts the others; results arrive in input order.
func (o *Orchestrator) MigrateAll(ctx context.Context, units []Unit) []Result {
	results := make([]Result, len(units))
	sem := semaphore.NewWeighted(int64(o.workers))
	var wg sync.WaitGroup

	for i, unit := range units {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Unit: unit, State: StateDoneFail, Err: err, Report: NewReport(unit.Name)}
			continue
		}
		wg.Add(1)
		go func(i int, unit Unit) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.Migrate(ctx, unit)
		}(i, unit)
	}

	wg.Wait()
	return results
}

// PackageDirName derives the output package directory from a qualified chunk
// name: "SalesInvoice.on_submit" becomes "on_submit".
func PackageDirName(name string) string {
	parts := strings.Split(name, ".")
	last := parts[len(parts)-1]
	last = strings.NewReplacer("[", "_", "]", "").Replace(last)
	if last == "" {
		return "migrated"
	}
	return strings.ToLower(last)
}

func writeArtifacts(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
