package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/wsaudit/internal/api/handlers"
	"github.com/pratik-mahalle/wsaudit/internal/api/router"
	"github.com/pratik-mahalle/wsaudit/internal/config"
	"github.com/pratik-mahalle/wsaudit/internal/detector"
	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/repository/sqlstore"
	"github.com/pratik-mahalle/wsaudit/internal/services"
	"github.com/pratik-mahalle/wsaudit/internal/testutil"
)

const previousDoc = `{
  "captured_at": "2024-03-01T00:00:00Z",
  "users": {
    "U1": {"display_name": "Ada", "is_owner": true, "has_2fa": true},
    "U2": {"display_name": "Grace", "is_owner": true, "has_2fa": true},
    "U3": {"display_name": "Linus", "email": "linus@example.com"}
  },
  "channels": {"C1": {"name": "general", "members": ["U1", "U2", "U3"]}},
  "storage": {"used": 100, "limit": 1000}
}`

const currentDoc = `{
  "captured_at": "2024-03-02T00:00:00Z",
  "users": {
    "U1": {"display_name": "Ada", "is_owner": true, "has_2fa": true},
    "U2": {"display_name": "Grace", "is_owner": true, "has_2fa": true},
    "U3": {"display_name": "Linus", "email": "linus@example.com", "is_admin": true}
  },
  "channels": {"C1": {"name": "general", "members": ["U1", "U2", "U3"]}},
  "storage": {"used": 120, "limit": 1000}
}`

type cliEnv struct {
	dir      string
	previous string
	current  string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("AUDIT_SPOOL_DIR", filepath.Join(dir, "spool"))

	env := cliEnv{
		dir:      dir,
		previous: filepath.Join(dir, "previous.json"),
		current:  filepath.Join(dir, "current.json"),
	}
	require.NoError(t, os.WriteFile(env.previous, []byte(previousDoc), 0o600))
	require.NoError(t, os.WriteFile(env.current, []byte(currentDoc), 0o600))
	return env
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestDiffCmd_Table(t *testing.T) {
	env := newCLIEnv(t)

	out, err := execute(t, "diff", env.previous, env.current)
	require.NoError(t, err)

	assert.Contains(t, out, "Users:    +0 -0 ~1")
	assert.Contains(t, out, "is_admin: false -> true")
	assert.Contains(t, out, "120 B")
}

func TestDiffCmd_BaselineJSON(t *testing.T) {
	env := newCLIEnv(t)

	out, err := execute(t, "diff", env.current, "-o", "json")
	require.NoError(t, err)

	result := decode(t, out)
	assert.Equal(t, true, result["baseline"])
	users := result["users"].(map[string]interface{})
	assert.Len(t, users["added"], 3)
}

func TestDiffCmd_UnknownIgnoredField(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("AUDIT_IGNORE_USER_FIELDS", "shoe_size")

	_, err := execute(t, "diff", env.previous, env.current)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration), "err = %v", err)
}

func TestDetectCmd(t *testing.T) {
	env := newCLIEnv(t)

	out, err := execute(t, "detect", env.current, "--previous", env.previous, "-o", "json")
	require.NoError(t, err)

	var alerts []alert.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &alerts), out)
	require.Len(t, alerts, 2)
	categories := []alert.Category{alerts[0].Category, alerts[1].Category}
	assert.ElementsMatch(t, []alert.Category{alert.CategoryNewAdminWithout2FA, alert.CategoryPermissionChange}, categories)
	for _, a := range alerts {
		assert.Equal(t, alert.SeverityCritical, a.Severity)
	}

	out, err = execute(t, "detect", env.current, "--previous", env.previous)
	require.NoError(t, err)
	assert.Contains(t, out, "[!] CRITICAL")
	assert.Contains(t, out, "2 alert(s)")
}

func TestDetectCmd_BadSnapshot(t *testing.T) {
	env := newCLIEnv(t)
	broken := filepath.Join(env.dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"users": {}}`), 0o600))

	_, err := execute(t, "detect", broken)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotMismatch), "err = %v", err)
}

func TestRunCmd_RecordsHistory(t *testing.T) {
	env := newCLIEnv(t)

	out, err := execute(t, "run", env.previous, "--no-notify", "-o", "json")
	require.NoError(t, err)
	first := decode(t, out)
	assert.Equal(t, true, first["diff"].(map[string]interface{})["baseline"])

	out, err = execute(t, "run", env.current, "--no-notify", "-o", "json")
	require.NoError(t, err)
	second := decode(t, out)
	runID := second["id"].(string)
	assert.Len(t, second["alerts"], 2)

	out, err = execute(t, "history", "list", "-o", "json")
	require.NoError(t, err)
	page := decode(t, out)
	assert.EqualValues(t, 2, page["total_items"])

	out, err = execute(t, "history", "show", runID)
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "new-admin-without-2fa")

	out, err = execute(t, "history", "alerts", "--run", runID, "--category", "permission-change", "-o", "json")
	require.NoError(t, err)
	var records []alert.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records), out)
	require.Len(t, records, 1)
	assert.Equal(t, runID, records[0].RunID)

	_, err = execute(t, "history", "show", "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound), "err = %v", err)
}

func TestRunCmd_FromSpool(t *testing.T) {
	env := newCLIEnv(t)
	spool := filepath.Join(env.dir, "spool")
	require.NoError(t, os.MkdirAll(spool, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(spool, "2024-03-02.json"), []byte(currentDoc), 0o600))

	out, err := execute(t, "run", "--no-notify")
	require.NoError(t, err)
	assert.Contains(t, out, "Trigger:  manual")
	assert.Contains(t, out, "Baseline: yes")
}

func TestRunCmd_PairFailOn(t *testing.T) {
	env := newCLIEnv(t)

	_, err := execute(t, "run", "--pair", env.previous, env.current, "--no-notify", "--fail-on", "critical")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raised critical alerts")

	_, err = execute(t, "run", "--pair", env.previous, env.current, "--no-notify", "--fail-on", "bogus")
	assert.Error(t, err)

	_, err = execute(t, "run", "--pair", env.previous)
	assert.Error(t, err)

	_, err = os.Stat(filepath.Join(env.dir, "history.db"))
	assert.True(t, os.IsNotExist(err), "pair runs do not open history")
}

func TestRulesCmds(t *testing.T) {
	env := newCLIEnv(t)

	out, err := execute(t, "rules", "defaults", "--format", "yaml")
	require.NoError(t, err)
	rules, err := config.ParseRules([]byte(out), config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, alert.DefaultRules(), rules)

	path := filepath.Join(env.dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
	out, err = execute(t, "rules", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "10 rule(s), 10 enabled")

	bad := filepath.Join(env.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- id: x\n  category: nonsense\n  severity: info\n"), 0o600))
	_, err = execute(t, "rules", "validate", bad)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration), "err = %v", err)

	out, err = execute(t, "rules", "list", "--rules", path)
	require.NoError(t, err)
	assert.Contains(t, out, "critical_percent=90")
}

func TestConfigCmds(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(env.dir, "cli.yaml")

	out, err := execute(t, "config", "set", "spool_dir", "/var/spool/wsaudit", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Set spool_dir = /var/spool/wsaudit")

	out, err = execute(t, "config", "get", "spool_dir", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "spool_dir: /var/spool/wsaudit\n", out)

	_, err = execute(t, "config", "set", "smtp.password", "hunter2", "--config", path)
	require.NoError(t, err)
	out, err = execute(t, "config", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "smtp.password: (hidden)")
	assert.NotContains(t, out, "hunter2")

	out, err = execute(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.dir, ".wsaudit", "config.yaml"), strings.TrimSpace(out))
}

func TestNewDispatcher(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	cfg := &config.Config{}
	cfg.Notification.Slack.WebhookURL = "https://hooks.slack.com/services/x"
	cfg.Notification.Webhook.URL = "https://siem.example.com/in"
	cfg.Notification.Webhook.MinSeverity = "critical"

	d, err := newDispatcher(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"slack", "webhook"}, d.Channels())

	cfg.Notification.Webhook.MinSeverity = "loud"
	_, err = newDispatcher(cfg, log)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration), "err = %v", err)

	cfg.Notification.Webhook.MinSeverity = ""
	cfg.Notification.Webhook.URL = "not a url"
	_, err = newDispatcher(cfg, log)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration), "err = %v", err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "ab", truncate("abcdefgh", 2))
}

func TestStatusCmd(t *testing.T) {
	env := newCLIEnv(t)
	log := logger.New(logger.Config{Level: "error"})
	db := testutil.NewTestDB(t)

	svc := services.NewAuditService(detector.NewDiffEngine(), detector.NewAlertDetector(), alert.DefaultRuleSet(),
		services.NewAlertManager(log), sqlstore.NewSnapshotRepository(db), sqlstore.NewReportRepository(db), log)
	done := make(chan struct{})
	defer close(done)
	srv := httptest.NewServer(router.New(&config.Config{}, log, &router.Handlers{
		Health: handlers.NewHealthHandler(db, log),
		Report: handlers.NewReportHandler(sqlstore.NewReportRepository(db), log),
		Alert:  handlers.NewAlertHandler(sqlstore.NewAlertRepository(db), log),
		Run:    handlers.NewRunHandler(svc, nil, log),
	}, done))
	defer srv.Close()

	_, snap, err := loadPair([]string{env.current})
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), snap)
	require.NoError(t, err)

	out, err := execute(t, "status", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "ready (database connected)")
	assert.Contains(t, out, "Runs:      1 recorded")

	out, err = execute(t, "status", "--server", srv.URL, "-o", "json")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, out)["total_runs"])
}
