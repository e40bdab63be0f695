package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/app"
	"github.com/JakeFAU/docket-pipeline/internal/config"
	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// useLocalApp points the command factory at a local object store under dir
// so successive invocations share state.
func useLocalApp(t *testing.T, dir string) {
	t.Helper()
	prev := newApp
	newApp = func(ctx context.Context, _ string) (*app.App, error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg.Storage.Backend = config.BackendLocal
		cfg.Storage.BaseDir = dir
		return app.New(ctx, cfg, zap.NewNop())
	}
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitThenProcess(t *testing.T) {
	dir := t.TempDir()
	useLocalApp(t, dir)

	payload := filepath.Join(t.TempDir(), "case.json")
	require.NoError(t, os.WriteFile(payload,
		[]byte(`{"case_govid":"24-E-0165","case_name":"Con Edison Rate Case","filings":[]}`), 0o600))

	out, err := execute(t, "submit", "--jurisdiction", "usa/ny/ny_puc", "--file", payload)
	require.NoError(t, err, out)
	var first docket.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.Equal(t, docket.OutcomeSucceeded, first.Status)
	_, statErr := os.Stat(filepath.Join(dir, "objects", "usa", "ny", "ny_puc", "24-E-0165.json"))
	require.NoError(t, statErr)

	out, err = execute(t, "process", "--jurisdiction", "usa/ny/ny_puc", "--govid", "24-E-0165")
	require.NoError(t, err, out)
	var second docket.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	assert.Equal(t, docket.OutcomeUnchanged, second.Status)

	out, err = execute(t, "process", "--jurisdiction", "usa/ny/ny_puc", "--govid", "24-E-0165", "--force")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"status": "succeeded"`)
}

func TestSubmitStageOnly(t *testing.T) {
	dir := t.TempDir()
	useLocalApp(t, dir)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(bytes.NewBufferString(`{"case_govid":"A.24-01-001","case_name":"Application"}`))
	root.SetArgs([]string{"submit", "--jurisdiction", "usa/ca/puc", "--stage-only"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Equal(t, "objects_raw/usa/ca/puc/A.24-01-001.json\n", out.String())
}

func TestProcessMissingCaseFails(t *testing.T) {
	useLocalApp(t, t.TempDir())

	_, err := execute(t, "process", "--jurisdiction", "usa/ca/puc", "--govid", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), docket.ReasonStorageError)
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	useLocalApp(t, t.TempDir())

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetIn(bytes.NewBufferString(`{"case_name":"missing id"}`))
	root.SetArgs([]string{"submit", "--jurisdiction", "usa/ca/puc"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case_govid")
}
