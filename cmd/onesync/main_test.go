package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/onesync/internal/activitylog"
	"github.com/openmined/onesync/internal/db"
	"github.com/openmined/onesync/internal/syncjob"
	"github.com/openmined/onesync/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	base string
	home string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	return &testEnv{base: base, home: filepath.Join(base, "home")}
}

func (e *testEnv) path(parts ...string) string {
	return filepath.Join(append([]string{e.base}, parts...)...)
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runAt(t, e.home, args...)
}

func (e *testEnv) runAt(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root, closeLog := newRootCmd()
	t.Cleanup(func() { _ = closeLog() })

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"--config", e.path("config.json"),
		"--root", home,
		"--log-file=",
	}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	src, relay := env.path("docs"), env.path("relay")

	out, err := env.run(t, "job", "create", "Docs", "--source", src, "--intermediary", relay)
	require.NoError(t, err)
	assert.Contains(t, out, "Created job Docs")

	out, err = env.run(t, "job", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Docs")
	assert.Contains(t, out, relay)

	out, err = env.run(t, "job", "show", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Metadata:")
	assert.Contains(t, out, "0 files, 0 folders")
	assert.Contains(t, out, "never")

	_, err = env.run(t, "job", "rename", "Docs", "Papers")
	require.NoError(t, err)
	_, err = env.run(t, "job", "show", "Docs")
	assert.ErrorIs(t, err, errJobNotFound)

	moved := env.path("relay2")
	out, err = env.run(t, "job", "move", "Papers", "--intermediary", moved)
	require.NoError(t, err)
	assert.Contains(t, out, moved)

	_, err = env.run(t, "job", "move", "Papers")
	assert.Error(t, err)

	_, err = env.run(t, "job", "delete", "Papers")
	require.NoError(t, err)
	out, err = env.run(t, "job", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")
}

func TestJobCreate_NameExists(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "job", "create", "Backup", "-s", env.path("a"), "-i", env.path("r1"))
	require.NoError(t, err)

	_, err = env.run(t, "job", "create", "Backup", "-s", env.path("b"), "-i", env.path("r2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, syncjob.ErrNameExists)
	assert.Contains(t, err.Error(), `a job named "Backup" already exists`)
}

func TestJobCreate_TooManySources(t *testing.T) {
	env := newTestEnv(t)
	relay := env.path("relay")

	for _, name := range []string{"a", "b"} {
		_, err := env.run(t, "job", "create", name, "-s", env.path(name), "-i", relay)
		require.NoError(t, err)
	}
	_, err := env.run(t, "job", "create", "c", "-s", env.path("c"), "-i", relay)
	assert.ErrorIs(t, err, syncjob.ErrTooManySources)
	assert.Contains(t, err.Error(), "already relays between 2 folders")
}

func TestSync_RecordsChangesAndPeerView(t *testing.T) {
	env := newTestEnv(t)
	relay := env.path("relay")
	mine, theirs := env.path("mine"), env.path("theirs")
	otherHome := env.path("other-home")

	writeFile(t, filepath.Join(mine, "a.txt"), "a")
	writeFile(t, filepath.Join(mine, "notes", "b.md"), "b")
	writeFile(t, filepath.Join(theirs, "remote.txt"), "r")

	_, err := env.run(t, "job", "create", "Docs", "-s", mine, "-i", relay)
	require.NoError(t, err)
	_, err = env.runAt(t, otherHome, "job", "create", "Docs", "-s", theirs, "-i", relay)
	require.NoError(t, err)

	out, err := env.run(t, "sync", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Docs: files +2 -0 ~0, folders +1 -0")

	out, err = env.run(t, "sync", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Docs: files +0 -0 ~0, folders +0 -0")

	_, err = env.runAt(t, otherHome, "sync", "--all")
	require.NoError(t, err)

	writeFile(t, filepath.Join(mine, "a.txt"), "changed")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(mine, "a.txt"), later, later))
	require.NoError(t, os.Remove(filepath.Join(mine, "notes", "b.md")))
	out, err = env.run(t, "sync", "Docs", "--peer")
	require.NoError(t, err)
	assert.Contains(t, out, "Docs: files +0 -1 ~1, folders +0 -0")
	assert.Contains(t, out, "peer has 1 files, 0 folders")
	assert.Contains(t, out, "remote.txt")

	entries, err := activitylog.New(filepath.Join(env.home, "logs")).Entries(mine)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 3, entries[0].Processed)
	assert.Equal(t, 0, entries[1].Processed)
	assert.Equal(t, 2, entries[2].Processed)

	out, err = env.run(t, "job", "show", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "1 files, 1 folders")
}

func TestSync_IncludeKeepsFilesOutsidePatterns(t *testing.T) {
	env := newTestEnv(t)
	src := env.path("docs")
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "b.md"), "b")

	_, err := env.run(t, "job", "create", "Docs", "-s", src, "-i", env.path("relay"))
	require.NoError(t, err)
	out, err := env.run(t, "sync", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Docs: files +2 -0 ~0")

	out, err = env.run(t, "sync", "Docs", "--include", "*.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "Docs: files +0 -0 ~0")
	assert.Contains(t, out, "kept 1")

	out, err = env.run(t, "job", "show", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "2 files")
}

func TestSync_ReusesStoredHashes(t *testing.T) {
	env := newTestEnv(t)
	src := env.path("docs")
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "b.txt"), "b")

	_, err := env.run(t, "job", "create", "Docs", "-s", src, "-i", env.path("relay"))
	require.NoError(t, err)
	out, err := env.run(t, "sync", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "hashed 2, reused 0")

	out, err = env.run(t, "sync", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "hashed 0, reused 2")
}

func TestMissingIntermediaryIsNotRecreated(t *testing.T) {
	env := newTestEnv(t)
	relay := env.path("relay")

	_, err := env.run(t, "job", "create", "Docs", "-s", env.path("docs"), "-i", relay)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(relay))

	out, err := env.run(t, "job", "show", "Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "unavailable")

	_, err = env.run(t, "sync", "Docs", "--peer")
	assert.ErrorIs(t, err, db.ErrStoreUnavailable)

	out, err = env.run(t, "repair")
	assert.Error(t, err)
	assert.Contains(t, out, "Failed Docs")

	assert.NoDirExists(t, relay)
}

func TestSync_Arguments(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "sync")
	assert.Error(t, err)
	_, err = env.run(t, "sync", "x", "--all")
	assert.Error(t, err)
	_, err = env.run(t, "sync", "missing")
	assert.ErrorIs(t, err, errJobNotFound)
}

func TestRepair_Consistent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "job", "create", "Docs", "-s", env.path("a"), "-i", env.path("relay"))
	require.NoError(t, err)

	out, err := env.run(t, "repair", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "All 1 jobs consistent")
}

func TestConfigSaveAndShow(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "--case-insensitive", "config", "save")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved config to")
	assert.FileExists(t, env.path("config.json"))

	root, closeLog := newRootCmd()
	defer closeLog()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"--config", env.path("config.json"), "--log-file=", "config", "show"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), `"case_insensitive": true`)
	assert.Contains(t, buf.String(), env.home)
}

func TestVersionCommand_PrintsDetailedVersion(t *testing.T) {
	root, closeLog := newRootCmd()
	defer closeLog()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version.DetailedWithApp()+"\n", out.String())
}

func TestDescribe(t *testing.T) {
	assert.Nil(t, describe(nil))

	plain := errors.New("plain")
	assert.Equal(t, plain, describe(plain))

	err := describe(&syncjob.Error{Kind: syncjob.KindNotFound, Op: "update", Job: "Docs"})
	assert.ErrorIs(t, err, syncjob.ErrNotFound)
	assert.Contains(t, err.Error(), `job "Docs" does not exist`)
}
