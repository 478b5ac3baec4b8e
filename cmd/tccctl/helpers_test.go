package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tcc "github.com/couchbaselabs/gotcc"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return buf.String(), fnErr
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}

// setupCLI points the command globals at a fresh database holding count
// trying root transactions and returns their xids.
func setupCLI(t *testing.T, count int) []tcc.Xid {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tcc.db")
	repo, err := tcc.OpenBoltRepository(path, nil)
	require.NoError(t, err, "open failed")

	c, err := tcc.Init(&tcc.Config{
		Repository:      repo,
		DisableCache:    true,
		DisableRecovery: true,
	})
	require.NoError(t, err, "init failed")

	var xids []tcc.Xid
	for i := 0; i < count; i++ {
		// A timed out try is kept as trying for the recovery job.
		err := c.Interceptor().InterceptCompensable(context.Background(), tcc.CompensableOptions{}, nil,
			func(ctx context.Context) error {
				xids = append(xids, c.Manager().CurrentTransaction(ctx).Xid())
				return context.DeadlineExceeded
			})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	require.NoError(t, c.Close())
	require.NoError(t, repo.Close())

	cfg = defaultFileConfig()
	cfg.DB = path
	log = zap.NewNop()
	color.NoColor = true

	jsonOut = false
	deleteForce = false
	listStale = false
	listAbandoned = false
	listOlderThan = 0
	t.Cleanup(func() {
		jsonOut = false
	})

	return xids
}

func decodeJSON(t *testing.T, output string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(output), v), "invalid JSON output: %s", output)
}
