package seal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunProducesPassingSealReport(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		RepoRoot: dir,
		RunID:    "seal",
		Tick:     0,
		GateRuns: 3,
		SealDir:  filepath.Join(dir, "artifacts_seal"),
		GateDir:  filepath.Join(dir, "artifacts_gate"),
	}

	result, err := Run(in)
	require.NoError(t, err)
	assert.True(t, result.OK, "expected a deterministic seal run to pass, got report: %+v", result.Report)
	assert.True(t, result.Report.ValidationResult.OK, "expected validation to pass, got failures: %+v", result.Report.ValidationResult.Failures)
	assert.True(t, result.Report.DozenGateResult.OK, "expected the gate to pass, got: %+v", result.Report.DozenGateResult)
	_, statErr := os.Stat(result.ReportPath)
	assert.NoError(t, statErr)
}

func TestRunDefaultsVersionWhenFilesAbsent(t *testing.T) {
	dir := t.TempDir()
	in := Input{
		RepoRoot: dir,
		RunID:    "seal",
		GateRuns: 2,
		SealDir:  filepath.Join(dir, "artifacts_seal"),
		GateDir:  filepath.Join(dir, "artifacts_gate"),
	}

	result, err := Run(in)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", result.Report.Version)
	assert.Equal(t, "AbraxasVersionPack.v0", result.Report.VersionPack["schema"])
}

func TestRunReadsVersionFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("1.2.3\n"), 0o644))

	in := Input{
		RepoRoot: dir,
		RunID:    "seal",
		GateRuns: 2,
		SealDir:  filepath.Join(dir, "artifacts_seal"),
		GateDir:  filepath.Join(dir, "artifacts_gate"),
	}

	result, err := Run(in)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", result.Report.Version)
}

func TestRunClearsSealDirBetweenInvocations(t *testing.T) {
	dir := t.TempDir()
	sealDir := filepath.Join(dir, "artifacts_seal")
	stale := filepath.Join(sealDir, "stale.txt")
	require.NoError(t, os.MkdirAll(sealDir, 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("leftover"), 0o644))

	in := Input{
		RepoRoot: dir,
		RunID:    "seal",
		GateRuns: 2,
		SealDir:  sealDir,
		GateDir:  filepath.Join(dir, "artifacts_gate"),
	}

	_, err := Run(in)
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "expected stale file in seal dir to be cleared before the run")
}
