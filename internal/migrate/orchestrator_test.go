package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GughanS/erpnext-ast-analyzer/internal/backoff"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator returns canned code and records heal calls.
type fakeGenerator struct {
	implErr   error
	fixErr    error
	fixCalls  int
	lastDiags []string
}

func (f *fakeGenerator) GenerateImplementation(ctx context.Context, name, source, contextBlock string, callEdges, sideEffects []string) (string, error) {
	if f.implErr != nil {
		return "", f.implErr
	}
	return "package " + PackageDirName(name) + "\n\nfunc Run() {}\n", nil
}

func (f *fakeGenerator) GenerateTests(ctx context.Context, name, implementation string) (string, error) {
	return "package " + PackageDirName(name) + "\n\nimport \"testing\"\n\nfunc TestRun(t *testing.T) { Run() }\n", nil
}

func (f *fakeGenerator) FixCode(ctx context.Context, code, diagnostics string) (string, error) {
	f.fixCalls++
	f.lastDiags = append(f.lastDiags, diagnostics)
	if f.fixErr != nil {
		return "", f.fixErr
	}
	return code + "\n// fixed\n", nil
}

// scriptedVerifier returns one outcome per round, in order.
type scriptedVerifier struct {
	outcomes []verdict
	round    int
}

type verdict struct {
	passed bool
	output string
}

func (s *scriptedVerifier) Verify(ctx context.Context, dir string) (bool, string, error) {
	v := s.outcomes[s.round]
	s.round++
	return v.passed, v.output, nil
}

func newOrchestrator(t *testing.T, gen Generator, v Verifier) *Orchestrator {
	t.Helper()
	return New(gen, v, Options{OutDir: t.TempDir(), MaxRounds: 3}, zerolog.Nop())
}

func unit() Unit {
	return Unit{
		Name:        "SalesInvoice.on_submit",
		Source:      "def on_submit(self):\n    make_gl_entries(self)",
		CallEdges:   []string{"make_gl_entries"},
		SideEffects: []string{"make_gl_entries"},
	}
}

func countEntries(r *Report, substr string) int {
	n := 0
	for _, e := range r.Entries() {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}

func TestMigratePassesFirstRound(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(t, gen, &scriptedVerifier{outcomes: []verdict{{true, "ok\nPASS"}}})

	res := o.Migrate(context.Background(), unit())

	assert.Equal(t, StateDonePass, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, "PASSED", res.Report.Status)
	assert.Zero(t, gen.fixCalls)

	entries := res.Report.Entries()
	assert.Equal(t, "Started migration for SalesInvoice.on_submit", entries[0])
	assert.Contains(t, entries, "Initial code generated and saved")
	assert.Contains(t, entries, "Verification Round 1 started")
	assert.Contains(t, entries, "Round 1: PASSED")

	for _, name := range []string{"on_submit.go", "on_submit_test.go", "migration_report.md"} {
		_, err := os.Stat(filepath.Join(res.Dir, name))
		assert.NoError(t, err, "artifact %s", name)
	}
}

func TestMigratePassesAfterTwoHeals(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(t, gen, &scriptedVerifier{outcomes: []verdict{
		{false, "undefined: Foo"},
		{false, "undefined: Bar"},
		{true, "PASS"},
	}})

	res := o.Migrate(context.Background(), unit())

	assert.Equal(t, StateDonePass, res.State)
	assert.Equal(t, "PASSED", res.Report.Status)
	assert.Equal(t, 2, gen.fixCalls)
	assert.Equal(t, 2, countEntries(res.Report, "Attempting self-healing"))
	assert.Contains(t, res.Report.Entries(), "Round 3: PASSED")
	assert.Equal(t, "PASS", res.Report.FinalOutput)
}

func TestMigrateFailsAfterMaxRounds(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(t, gen, &scriptedVerifier{outcomes: []verdict{
		{false, "round 1 diagnostics"},
		{false, "round 2 diagnostics"},
		{false, "round 3 diagnostics"},
	}})

	res := o.Migrate(context.Background(), unit())

	assert.Equal(t, StateDoneFail, res.State)
	assert.NoError(t, res.Err, "a clean FAILED is not an orchestrator error")
	assert.Equal(t, "FAILED", res.Report.Status)
	assert.Equal(t, 2, gen.fixCalls, "no heal after the final round")
	assert.Equal(t, "round 3 diagnostics", res.Report.LastDiagnostic)
	assert.Contains(t, res.Report.Entries(), "Max retries reached or error not fixable")
}

func TestMigrateHealTargetsTestFileWhenNamedInDiagnostics(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(t, gen, &scriptedVerifier{outcomes: []verdict{
		{false, "./on_submit_test.go:5: undefined: Missing"},
		{true, "PASS"},
	}})

	res := o.Migrate(context.Background(), unit())
	require.Equal(t, StateDonePass, res.State)

	tests, err := os.ReadFile(filepath.Join(res.Dir, "on_submit_test.go"))
	require.NoError(t, err)
	impl, err := os.ReadFile(filepath.Join(res.Dir, "on_submit.go"))
	require.NoError(t, err)
	assert.Contains(t, string(tests), "// fixed")
	assert.NotContains(t, string(impl), "// fixed")
}

func TestMigrateHardExhaustionIsTerminal(t *testing.T) {
	gen := &fakeGenerator{implErr: fmt.Errorf("generation service: %w", backoff.ErrHardExhaustion)}
	verifier := &scriptedVerifier{outcomes: []verdict{{true, "PASS"}}}
	o := newOrchestrator(t, gen, verifier)

	res := o.Migrate(context.Background(), unit())

	assert.Equal(t, StateDoneFail, res.State)
	assert.ErrorIs(t, res.Err, backoff.ErrHardExhaustion)
	assert.Equal(t, "FAILED", res.Report.Status)
	assert.Zero(t, verifier.round, "no verification without generated code")
	assert.Contains(t, res.Report.Entries(), "Max retries reached or error not fixable")

	// The persisted report names the reason, not just the status.
	assert.Contains(t, res.Report.LastDiagnostic, backoff.ErrHardExhaustion.Error())
	assert.Contains(t, res.Report.Render(), backoff.ErrHardExhaustion.Error())

	data, err := os.ReadFile(filepath.Join(res.Dir, "migration_report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), backoff.ErrHardExhaustion.Error())
}

func TestMigrateHardExhaustionDuringHeal(t *testing.T) {
	gen := &fakeGenerator{fixErr: fmt.Errorf("generation service: %w", backoff.ErrHardExhaustion)}
	o := newOrchestrator(t, gen, &scriptedVerifier{outcomes: []verdict{
		{false, "round 1 diagnostics"},
	}})

	res := o.Migrate(context.Background(), unit())

	assert.Equal(t, StateDoneFail, res.State)
	assert.ErrorIs(t, res.Err, backoff.ErrHardExhaustion)
	assert.Equal(t, 1, gen.fixCalls)
	assert.Equal(t, "round 1 diagnostics", res.Report.LastDiagnostic,
		"the failed round's verifier output stays the primary diagnostic")
	assert.Equal(t, "round 1 diagnostics", res.Report.FinalOutput)
}

func TestMigrateAllIsolatesUnits(t *testing.T) {
	gen := &fakeGenerator{}
	o := New(gen, &alternatingVerifier{}, Options{OutDir: t.TempDir(), MaxRounds: 1, Workers: 2}, zerolog.Nop())

	units := []Unit{
		{Name: "Bin.update_qty", Source: "def update_qty(self): pass"},
		{Name: "helper", Source: "def helper(): pass"},
	}
	results := o.MigrateAll(context.Background(), units)

	require.Len(t, results, 2)
	assert.Equal(t, "Bin.update_qty", results[0].Unit.Name)
	assert.Equal(t, "helper", results[1].Unit.Name)

	states := map[State]int{}
	for _, r := range results {
		states[r.State]++
	}
	assert.Equal(t, 1, states[StateDonePass])
	assert.Equal(t, 1, states[StateDoneFail], "one unit failing never aborts the other")
}

// alternatingVerifier fails packages named update_qty and passes the rest.
type alternatingVerifier struct{}

func (alternatingVerifier) Verify(ctx context.Context, dir string) (bool, string, error) {
	if filepath.Base(dir) == "update_qty" {
		return false, "build failed", nil
	}
	return true, "PASS", nil
}

func TestReportRender(t *testing.T) {
	r := NewReport("SalesInvoice.on_submit")
	r.Log("Started migration for %s", "SalesInvoice.on_submit")
	r.Log("Round 1: PASSED")
	r.Status = "PASSED"
	r.FinalOutput = "=== RUN TestRun\nPASS"

	out := r.Render()
	assert.Contains(t, out, "# Migration Report: SalesInvoice.on_submit")
	assert.Contains(t, out, "**Status:** PASSED")
	assert.Contains(t, out, "**Date:**")
	assert.Contains(t, out, "## Migration Log")
	assert.Contains(t, out, "Started migration for SalesInvoice.on_submit")
	assert.Contains(t, out, "## Final Test Output")
	assert.Contains(t, out, "```\n=== RUN TestRun\nPASS\n```")
}

func TestPackageDirName(t *testing.T) {
	assert.Equal(t, "on_submit", PackageDirName("SalesInvoice.on_submit"))
	assert.Equal(t, "helper", PackageDirName("helper"))
	assert.Equal(t, "validate_0", PackageDirName("Bin.validate[0]"))
}
