package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, mutate func(*Policy), opts Options) (*Engine, string) {
	t.Helper()
	base := t.TempDir()
	p := Default(base)
	p.Filesystem.AllowedPaths = []string{base}
	p.Filesystem.DeniedPaths = []string{filepath.Join(base, "secrets")}
	if mutate != nil {
		mutate(p)
	}
	e, err := New(p, opts)
	require.NoError(t, err)
	return e, base
}

func TestAuthorizeAllowsPathInAllowedDir(t *testing.T) {
	e, base := testEngine(t, nil, Options{})
	e.StartSession("job-1")

	d := e.Authorizer("job-1").Authorize(context.Background(), "read_file",
		map[string]any{"path": filepath.Join(base, "notes.txt")})
	assert.True(t, d.Allow)
}

func TestAuthorizeDeniesMissingArgument(t *testing.T) {
	e, _ := testEngine(t, nil, Options{})
	e.StartSession("job-1")

	d := e.Authorizer("job-1").Authorize(context.Background(), "write_file", map[string]any{})
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "path")
}

func TestAuthorizeDeniesDeniedPath(t *testing.T) {
	e, base := testEngine(t, nil, Options{})
	e.StartSession("job-1")

	d := e.Authorizer("job-1").Authorize(context.Background(), "read_file",
		map[string]any{"path": filepath.Join(base, "secrets", "key.pem")})
	assert.False(t, d.Allow)
}

func TestAuthorizeBudgetBlocks(t *testing.T) {
	e, base := testEngine(t, func(p *Policy) {
		p.Budget.MaxActionsPerSession = 2
		p.Budget.OnExceed = OnExceedBlock
	}, Options{})
	e.StartSession("job-1")

	auth := e.Authorizer("job-1")
	input := map[string]any{"path": filepath.Join(base, "out.txt"), "content": "x"}

	assert.True(t, auth.Authorize(context.Background(), "write_file", input).Allow)
	assert.True(t, auth.Authorize(context.Background(), "write_file", input).Allow)
	d := auth.Authorize(context.Background(), "write_file", input)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "Session action budget exceeded: 3/2")
}

func TestAuthorizeBudgetPerType(t *testing.T) {
	e, base := testEngine(t, func(p *Policy) {
		p.Budget.MaxActionsPerType = map[string]int{"write_file": 1}
	}, Options{})
	e.StartSession("job-1")

	auth := e.Authorizer("job-1")
	input := map[string]any{"path": filepath.Join(base, "out.txt")}
	assert.True(t, auth.Authorize(context.Background(), "write_file", input).Allow)
	assert.False(t, auth.Authorize(context.Background(), "write_file", input).Allow)
	// other tools unaffected
	assert.True(t, auth.Authorize(context.Background(), "read_file", input).Allow)
}

func TestAuthorizeBudgetFlagApproval(t *testing.T) {
	approve := true
	e, base := testEngine(t, func(p *Policy) {
		p.Budget.MaxActionsPerSession = 1
		p.Budget.OnExceed = OnExceedFlag
	}, Options{Flag: func(ctx context.Context, req FlagRequest) bool { return approve }})
	e.StartSession("job-1")

	auth := e.Authorizer("job-1")
	input := map[string]any{"path": filepath.Join(base, "out.txt")}
	assert.True(t, auth.Authorize(context.Background(), "write_file", input).Allow)
	assert.True(t, auth.Authorize(context.Background(), "write_file", input).Allow)

	approve = false
	assert.False(t, auth.Authorize(context.Background(), "write_file", input).Allow)
}

func TestAuthorizeAlwaysFlag(t *testing.T) {
	var got FlagRequest
	approve := false
	e, _ := testEngine(t, func(p *Policy) {
		p.Actions.AlwaysFlag = []string{CategoryGitPush}
	}, Options{Flag: func(ctx context.Context, req FlagRequest) bool {
		got = req
		return approve
	}})
	e.StartSession("job-1")

	auth := e.Authorizer("job-1")
	d := auth.Authorize(context.Background(), "bash", map[string]any{"command": "git push origin main"})
	assert.False(t, d.Allow)
	assert.Equal(t, CategoryGitPush, got.Category)

	approve = true
	d = auth.Authorize(context.Background(), "bash", map[string]any{"command": "git push origin main"})
	assert.True(t, d.Allow)
}

func TestAuthorizeAlwaysFlagWithoutCallbackAllows(t *testing.T) {
	e, _ := testEngine(t, func(p *Policy) {
		p.Actions.AlwaysFlag = []string{"*"}
	}, Options{})
	e.StartSession("job-1")

	d := e.Authorizer("job-1").Authorize(context.Background(), "bash",
		map[string]any{"command": "git push origin main"})
	assert.True(t, d.Allow)
}

func TestAuthorizeDriftFlagged(t *testing.T) {
	denied := false
	e, base := testEngine(t, nil, Options{
		Flag: func(ctx context.Context, req FlagRequest) bool { return !denied },
	})
	e.StartSession("job-1")
	e.BindIntent("job-1", "organize photo library by year", nil, 0)

	auth := e.Authorizer("job-1")

	// On-mandate action passes without flagging.
	d := auth.Authorize(context.Background(), "write_file",
		map[string]any{"path": filepath.Join(base, "organize-photo-library-year.txt")})
	assert.True(t, d.Allow)

	// Off-mandate action is flagged; denial blocks it.
	denied = true
	d = auth.Authorize(context.Background(), "write_file",
		map[string]any{"path": filepath.Join(base, "banking-credentials-export.txt")})
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "mandate")
}

func TestAuthorizeDriftCategoryRestriction(t *testing.T) {
	e, _ := testEngine(t, func(p *Policy) {
		p.Actions.AlwaysFlag = nil
	}, Options{
		Flag: func(ctx context.Context, req FlagRequest) bool { return false },
	})
	e.StartSession("job-1")
	e.BindIntent("job-1", "inspect repository state", []string{CategoryRead, CategoryShellExec}, 0)

	d := e.Authorizer("job-1").Authorize(context.Background(), "bash",
		map[string]any{"command": "git push origin main"})
	assert.False(t, d.Allow)
}

func TestAuthorizeDriftWithoutCallbackWarnsAndAllows(t *testing.T) {
	e, base := testEngine(t, nil, Options{})
	e.StartSession("job-1")
	e.BindIntent("job-1", "organize photo library", nil, 0)

	d := e.Authorizer("job-1").Authorize(context.Background(), "write_file",
		map[string]any{"path": filepath.Join(base, "unrelated-financial-report.txt")})
	assert.True(t, d.Allow)
}

func TestAuthorizeDryRunInterceptsWrites(t *testing.T) {
	e, base := testEngine(t, func(p *Policy) {
		p.DryRun.Enabled = true
	}, Options{})
	e.StartSession("job-1")

	auth := e.Authorizer("job-1")
	d := auth.Authorize(context.Background(), "write_file",
		map[string]any{"path": filepath.Join(base, "out.txt")})
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "dry-run")

	// Read-only bash is exempt.
	d = auth.Authorize(context.Background(), "bash", map[string]any{"command": "git status"})
	assert.True(t, d.Allow)

	// Mutating bash is intercepted.
	d = auth.Authorize(context.Background(), "bash", map[string]any{"command": "touch x"})
	assert.False(t, d.Allow)

	runs := e.DryRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "write_file", runs[0].Tool)
	assert.Equal(t, "bash", runs[1].Tool)
}

func TestEndSessionClearsState(t *testing.T) {
	e, _ := testEngine(t, nil, Options{})
	e.StartSession("job-1")
	e.BindIntent("job-1", "do something", nil, 0)
	e.RecordTokenUsage("job-1", 100)

	e.EndSession("job-1")
	st := e.GetBudgetStatus("job-1")
	assert.Zero(t, st.TotalActions)
	assert.Zero(t, st.TokensUsed)
}

func TestRecordTokenUsageAndStatus(t *testing.T) {
	e, _ := testEngine(t, func(p *Policy) {
		p.Budget.TokenBudget = 1000
	}, Options{})
	e.StartSession("job-1")
	e.RecordTokenUsage("job-1", 600)
	e.RecordTokenUsage("job-1", 250)

	st := e.GetBudgetStatus("job-1")
	assert.Equal(t, int64(850), st.TokensUsed)
	assert.Equal(t, int64(1000), st.TokenBudget)
}

func TestCheckAccess(t *testing.T) {
	e, base := testEngine(t, func(p *Policy) {
		p.Shell.Mode = ShellModeDenylist
		p.Shell.DeniedCommands = []string{"sudo"}
	}, Options{})

	results := e.CheckAccess(
		[]string{filepath.Join(base, "ok.txt"), "/etc/passwd"},
		[]string{"ls -la", "sudo reboot"},
	)
	require.Len(t, results, 4)
	assert.True(t, results[0].Allowed)
	assert.False(t, results[1].Allowed)
	assert.True(t, results[2].Allowed)
	assert.False(t, results[3].Allowed)
}

func TestExpandPolicy(t *testing.T) {
	base := t.TempDir()
	policyPath := filepath.Join(base, "policy.toml")
	p := Default(base)
	p.Filesystem.AllowedPaths = []string{base}
	p.Filesystem.DeniedPaths = []string{filepath.Join(base, "secrets")}
	p.Shell = ShellPolicy{Mode: ShellModeDenyAll, DeniedCommands: []string{"sudo"}}
	e, err := New(p, Options{PolicyPath: policyPath})
	require.NoError(t, err)

	extra := t.TempDir()
	require.NoError(t, e.ExpandPolicy(ExpandRequest{Paths: []string{extra}, Commands: []string{"ls"}}))

	// Grant is effective.
	assert.NoError(t, e.ValidatePath(filepath.Join(extra, "f.txt")))
	// deny_all promoted to allowlist on first command grant.
	assert.NoError(t, e.ValidateCommand("ls"))
	assert.Error(t, e.ValidateCommand("cat x"))

	// Persisted because a path was registered.
	data, err := os.ReadFile(policyPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), extra)

	// Permanent deny-list entries are refused.
	err = e.ExpandPolicy(ExpandRequest{Paths: []string{filepath.Join(base, "secrets", "sub")}})
	var de *DenyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, DenyPermanent, de.Kind)

	err = e.ExpandPolicy(ExpandRequest{Commands: []string{"sudo"}})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, DenyPermanent, de.Kind)
}

func TestPolicyLoadSaveRoundTrip(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "policy.toml")

	p := Default(base)
	p.Budget.MaxActionsPerType = map[string]int{"bash": 50}
	p.DryRun.Enabled = true
	require.NoError(t, Save(path, p))

	loaded, err := Load(path, base)
	require.NoError(t, err)
	assert.Equal(t, p.Filesystem.AllowedPaths, loaded.Filesystem.AllowedPaths)
	assert.Equal(t, p.Shell.Mode, loaded.Shell.Mode)
	assert.Equal(t, 50, loaded.Budget.MaxActionsPerType["bash"])
	assert.True(t, loaded.DryRun.Enabled)
}

func TestPolicyLoadMissingFileReturnsDefault(t *testing.T) {
	base := t.TempDir()
	p, err := Load(filepath.Join(base, "nope.toml"), base)
	require.NoError(t, err)
	assert.Equal(t, ShellModeDenylist, p.Shell.Mode)
}
