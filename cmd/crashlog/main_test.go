package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
	"github.com/strongdm/ai-crashlog/pkg/crashlog/archive"
	"github.com/strongdm/ai-crashlog/pkg/crashlog/stores/sqlite"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), append([]string{name}, args...))
	return out.String(), err
}

// writeReports writes two crashes with the same fault site and one note.
func writeReports(t *testing.T) (root string, paths []string) {
	t.Helper()
	files := &crashlog.OSFileStore{FilesDir: t.TempDir()}
	host := crashlog.NewProcessHost("demo", crashlog.WithVersion("1.0", 1), crashlog.WithoutOSRelease())
	w := crashlog.NewWriter(crashlog.WriterConfig{Files: files, Host: host})

	ctx := context.Background()
	base := time.Date(2025, 1, 26, 15, 4, 5, 0, time.UTC)
	for i := 0; i < 2; i++ {
		rec := crashlog.NewRecord(crashlog.Goroutine{ID: 1}, crashlog.NewFault("IllegalStateException", "boom", nil), base.Add(time.Duration(i)*time.Second))
		path, err := w.WriteCrash(ctx, rec)
		require.NoError(t, err)
		paths = append(paths, path)
	}
	note, err := w.WriteNote(ctx, "just a note")
	require.NoError(t, err)
	paths = append(paths, note)

	return filepath.Join(files.FilesDir, crashlog.ReportsDirName), paths
}

func TestList(t *testing.T) {
	root, paths := writeReports(t)

	out, err := run(t, "--dir", root, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "TIME")
	for _, p := range paths {
		assert.Contains(t, out, p)
	}
	assert.Equal(t, 1, strings.Count(out, "note"))
}

func TestList_Group(t *testing.T) {
	root, _ := writeReports(t)

	out, err := run(t, "--dir", root, "list", "--group")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, out)
	assert.True(t, strings.HasPrefix(lines[1], "2 "), lines[1])
	assert.Contains(t, lines[1], "IllegalStateException")
}

func TestShow(t *testing.T) {
	_, paths := writeReports(t)

	out, err := run(t, "show", paths[0])
	require.NoError(t, err)

	assert.Contains(t, out, "versionName")
	assert.Contains(t, out, "IllegalStateException: boom")
}

func TestShow_LatestReadsCompressed(t *testing.T) {
	root, paths := writeReports(t)
	compressed, err := archive.Compress(paths[1])
	require.NoError(t, err)

	out, err := run(t, "--dir", root, "show", "--latest")
	require.NoError(t, err)

	assert.Contains(t, out, filepath.Base(compressed))
	assert.Contains(t, out, "IllegalStateException: boom")
}

func TestShow_NoPath(t *testing.T) {
	_, err := run(t, "--dir", t.TempDir(), "show")
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	root, paths := writeReports(t)

	out, err := run(t, "--dir", root, "archive", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "compressed 2 report(s)")

	assert.NoFileExists(t, paths[0])
	assert.FileExists(t, paths[0]+archive.Ext)
	assert.FileExists(t, paths[2], "the note was just written")
}

func TestStatusAndClear(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "crashlog.db")
	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, crashlog.NewCrashStore(store).MarkCrashed(context.Background(), 42))
	require.NoError(t, store.Close())

	out, err := run(t, "--store", dbPath, "status")
	require.NoError(t, err)
	assert.Regexp(t, `crashed:\s+true`, out)
	assert.Regexp(t, `owner:\s+42`, out)
	assert.Regexp(t, `last notify:\s+never`, out)

	out, err = run(t, "--store", dbPath, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	out, err = run(t, "--store", dbPath, "status")
	require.NoError(t, err)
	assert.Regexp(t, `crashed:\s+false`, out)
	assert.Regexp(t, `owner:\s+0`, out)
}

func TestStatus_MissingStore(t *testing.T) {
	_, err := run(t, "--store", filepath.Join(t.TempDir(), "absent.db"), "status")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "marker.db")
	cfgPath := filepath.Join(dir, "crashlog.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store_path = \""+filepath.ToSlash(dbPath)+"\"\n"), 0o644))

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := run(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, dbPath)
}

func TestConfigFlag_Invalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "crashlog.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bogus: 1\n"), 0o644))

	_, err := run(t, "--config", cfgPath, "list")
	assert.Error(t, err)
}
