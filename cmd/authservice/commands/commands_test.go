package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridauth/pkg/config"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"legacy log", []string{"-p", "7512", "-log", "/var/log/a"}, []string{"-p", "7512", "--log", "/var/log/a"}},
		{"legacy log with value", []string{"-log=/tmp/x"}, []string{"--log=/tmp/x"}},
		{"already long", []string{"--log", "x"}, []string{"--log", "x"}},
		{"other flags untouched", []string{"-p", "1", "--log-level", "DEBUG"}, []string{"-p", "1", "--log-level", "DEBUG"}},
		{"prefix only", []string{"-logfile"}, []string{"-logfile"}},
		{"after terminator", []string{"--", "-log"}, []string{"--", "-log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]string(nil), tt.in...)
			assert.Equal(t, tt.want, normalizeArgs(in))
			assert.Equal(t, tt.in, in, "input must not be modified")
		})
	}
}

func TestApplyServeFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addServeFlags(cmd)
	require.NoError(t, cmd.ParseFlags(normalizeArgs([]string{
		"-p", "7512", "-log", "/tmp/gridauth.log", "--bind", "127.0.0.1",
		"--log-level", "debug", "--log-format", "JSON", "--mechanism", "X509",
	})))

	cfg := config.GetDefaultConfig()
	applyServeFlags(cmd, cfg)

	assert.Equal(t, 7512, cfg.Server.Port)
	assert.Equal(t, "/tmp/gridauth.log", cfg.Logging.Output)
	assert.Equal(t, "127.0.0.1", cfg.Server.BindAddress)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, config.MechanismX509, cfg.Auth.Mechanism)
}

func TestApplyServeFlagsKeepsConfigWhenUnset(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addServeFlags(cmd)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg := config.GetDefaultConfig()
	cfg.Server.Port = 9000
	cfg.Logging.Output = "stderr"
	applyServeFlags(cmd, cfg)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		cfgFile = ""
	})
	err := Execute(args)
	return out.String(), err
}

func TestServeRequiresPort(t *testing.T) {
	isolate(t)
	_, err := execute(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-p <port>")
}

func TestServeRejectsMissingConfigFile(t *testing.T) {
	dir := isolate(t)
	_, err := execute(t, "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestVersionShort(t *testing.T) {
	Version = "1.2.3"
	t.Cleanup(func() {
		Version = "dev"
		versionShort = false
	})
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "gridauth.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	// The generated file carries no port, so validation must fail until
	// one is supplied.
	_, err = execute(t, "config", "validate", "--config", path)
	require.Error(t, err)

	t.Setenv("GRIDAUTH_SERVER_PORT", "7512")
	out, err = execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "7512")
}

func TestConfigSchema(t *testing.T) {
	isolate(t)
	out, err := execute(t, "config", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "gridauth Configuration", schema["title"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "server")
	assert.Contains(t, props, "auth")
}

func writeDBConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  enabled: true\n  type: sqlite\n  sqlite:\n    path: " +
		filepath.Join(dir, "gridauth.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestIdmapLifecycle(t *testing.T) {
	dir := isolate(t)
	path := writeDBConfig(t, dir)

	_, err := execute(t, "idmap", "add", "--config", path, "--subject", "alice@EXAMPLE.COM", "--username", "alice")
	require.NoError(t, err)

	_, err = execute(t, "idmap", "add", "--config", path, "--subject", "alice@EXAMPLE.COM", "--username", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound")

	out, err := execute(t, "idmap", "list", "--config", path, "-o", "json")
	require.NoError(t, err)
	var mappings []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &mappings))
	require.Len(t, mappings, 1)
	assert.Equal(t, "alice", mappings[0]["username"])

	_, err = execute(t, "idmap", "remove", "--config", path, "--subject", "alice@EXAMPLE.COM", "-o", "table")
	require.NoError(t, err)

	out, err = execute(t, "idmap", "list", "--config", path, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "No identity mappings found.")

	_, err = execute(t, "idmap", "remove", "--config", path, "--subject", "alice@EXAMPLE.COM")
	require.Error(t, err)
}

func TestIdmapRequiresDatabase(t *testing.T) {
	isolate(t)
	_, err := execute(t, "idmap", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is disabled")
}

func TestSessionsListEmpty(t *testing.T) {
	dir := isolate(t)
	path := writeDBConfig(t, dir)

	out, err := execute(t, "sessions", "list", "--config", path, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")

	_, err = execute(t, "sessions", "list", "--config", path, "--outcome", "bogus")
	require.Error(t, err)
}
