package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-auth/config"
	"github.com/target/mmk-auth/internal/adapters/memory"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	"github.com/target/mmk-auth/internal/observability/statsd"
)

func testConfig(t *testing.T, baseURL string) config.AppConfig {
	t.Helper()
	cfg := config.AppConfig{
		API: config.APIConfig{BaseURL: baseURL},
		Storage: config.StorageConfig{
			Type:     "session",
			Role:     "employee",
			FilePath: filepath.Join(t.TempDir(), "session.json"),
		},
	}
	cfg.Sanitize()
	return cfg
}

func TestBuildClient_SessionStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/check-user", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"exists": true, "hasPasskey": false, "userId": "u1"})
	}))
	t.Cleanup(srv.Close)

	c, err := BuildClient(context.Background(), ClientOptions{
		Config:  testConfig(t, srv.URL+"/auth"),
		Metrics: &statsd.Recorder{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	assert.Nil(t, c.Reaper)
	assert.Equal(t, domainauth.StateUnauthenticated, c.Auth.State().State)
	assert.Equal(t, domainauth.StorageSession, c.Auth.StorageConfiguration().Type)

	res, err := c.Auth.CheckUser(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, "u1", res.UserID)
}

func TestBuildClient_MetricsReachRecorderAndStatsd(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	cfg := testConfig(t, "http://localhost:1/auth")
	cfg.Observability.Metrics = config.ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: pc.LocalAddr().String(),
		Prefix:        "mmk_auth",
		Tags:          map[string]string{"env": "test"},
	}
	rec := &statsd.Recorder{}

	c, err := BuildClient(context.Background(), ClientOptions{Config: cfg, Metrics: rec})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Auth.SignOut(context.Background()))

	require.Len(t, rec.Find("auth.sign_out"), 1)

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	line := string(buf[:n])
	assert.True(t, strings.HasPrefix(line, "mmk_auth.auth.sign_out:1|c|#"), line)
	assert.Contains(t, line, "env:test")
	assert.Contains(t, line, "service:mmk-auth")
}

func TestBuildClient_CustomRequiresBackend(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1/auth")
	cfg.Storage.Type = "custom"

	_, err := BuildClient(context.Background(), ClientOptions{Config: cfg, Metrics: &statsd.Recorder{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_STORAGE_CUSTOM_DRIVER")
}

func TestBuildClient_InjectedCustomBackend(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1/auth")
	cfg.Storage.Type = "custom"

	c, err := BuildClient(context.Background(), ClientOptions{
		Config:        cfg,
		Metrics:       &statsd.Recorder{},
		CustomBackend: memory.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, domainauth.StorageCustom, c.Auth.StorageConfiguration().Type)
	assert.Equal(t, domainauth.RoleEmployee, c.Auth.StorageConfiguration().UserRole)
}

func TestBuildClient_InvalidPassthroughPath(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1/auth")
	cfg.Refresh.PassthroughPaths = map[string]string{"bad": "a.[["}

	_, err := BuildClient(context.Background(), ClientOptions{Config: cfg, Metrics: &statsd.Recorder{}})
	require.Error(t, err)
}

func TestBuildClient_InvalidBaseURL(t *testing.T) {
	cfg := testConfig(t, "ftp://example.com")

	_, err := BuildClient(context.Background(), ClientOptions{Config: cfg, Metrics: &statsd.Recorder{}})
	require.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := initLogger(&buf, config.AppConfig{IsDev: true})
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	logger = initLogger(&buf, config.AppConfig{Observability: config.ObservabilityConfig{LogLevel: "warn"}})
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.True(t, strings.Contains(out, `"msg":"kept"`))
}

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_STORAGE_TYPE", "local")
	t.Setenv("AUTH_REFRESH_MIN_INTERVAL", "1s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, config.MinRefreshInterval, cfg.Refresh.MinInterval)
}
