package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"stock-sync/config"
	"stock-sync/internal/app"
	"stock-sync/internal/models"
	"stock-sync/internal/report"
	"stock-sync/internal/store"
	"stock-sync/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Sync: config.SyncConfig{
			Watchdog:            30 * time.Minute,
			ReservationStatuses: []string{"Created"},
			HistoryLimit:        20,
		},
	}
}

// newTestEngine builds one memory-backed engine shared by every command of a test
func newTestEngine(t *testing.T) *app.App {
	t.Helper()
	engine, err := app.New(testConfig())
	require.NoError(t, err)

	mem := engine.Store.(*store.MemoryStore)
	mem.PutProduct(models.Product{Barcode: "8690000000011", Platforms: []models.Platform{models.PlatformTrendyol}})
	mem.SetCentralStock("8690000000011", 4)
	return engine
}

func execute(t *testing.T, engine *app.App, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(testConfig(), func(*config.Config) (*app.App, error) { return engine, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSyncAndInspectSession(t *testing.T) {
	engine := newTestEngine(t)

	out, err := execute(t, engine, "sync", "all", "--user", "ops")
	require.NoError(t, err)

	var summary models.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.NotEmpty(t, summary.SessionID)
	assert.Equal(t, 1, summary.TotalItems)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, 1, summary.Skipped)

	out, err = execute(t, engine, "session", summary.SessionID)
	require.NoError(t, err)
	var view struct {
		Session models.SyncSession  `json:"session"`
		Details []models.SyncDetail `json:"details"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "ops", view.Session.TriggeredByUser)
	require.Len(t, view.Details, 1)
	assert.Equal(t, "8690000000011", view.Details[0].Barcode)

	out, err = execute(t, engine, "sessions", "--platform", "all")
	require.NoError(t, err)
	assert.Contains(t, out, summary.SessionID)
}

func TestSyncRejectsUnknownPlatform(t *testing.T) {
	engine := newTestEngine(t)

	_, err := execute(t, engine, "sync", "etsy")
	assert.Error(t, err)

	_, err = execute(t, engine, "sync", "--platforms", "trendyol,etsy")
	assert.Error(t, err)
}

func TestSessionNotFound(t *testing.T) {
	engine := newTestEngine(t)

	_, err := execute(t, engine, "session", "missing")
	assert.Error(t, err)

	_, err = execute(t, engine, "session")
	assert.Error(t, err, "session requires an id")
}

func TestCancelFinishedSession(t *testing.T) {
	engine := newTestEngine(t)

	out, err := execute(t, engine, "sync")
	require.NoError(t, err)
	var summary models.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))

	out, err = execute(t, engine, "cancel", summary.SessionID)
	require.NoError(t, err)
	assert.Contains(t, out, `"cancelled": false`)
}

func TestSweepAndStatus(t *testing.T) {
	engine := newTestEngine(t)

	out, err := execute(t, engine, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, `"swept": []`)

	out, err = execute(t, engine, "status")
	require.NoError(t, err)
	for _, p := range models.Platforms {
		assert.Contains(t, out, string(p))
	}
}

func TestPrune(t *testing.T) {
	engine := newTestEngine(t)

	_, err := execute(t, engine, "sync")
	require.NoError(t, err)

	out, err := execute(t, engine, "prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, `"deleted": 0`)

	_, err = execute(t, engine, "prune", "--older-than", "0s")
	assert.Error(t, err)
}

func TestExportWritesWorkbook(t *testing.T) {
	engine := newTestEngine(t)

	out, err := execute(t, engine, "sync")
	require.NoError(t, err)
	var summary models.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))

	path := filepath.Join(t.TempDir(), "session.xlsx")
	out, err = execute(t, engine, "export", summary.SessionID, "--out", path)
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(report.DetailsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMigrateOnMemoryStore(t *testing.T) {
	engine := newTestEngine(t)

	out, err := execute(t, engine, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "migrations applied\n", out)
}
