package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	writeConfig(t, dir, `{
		"logLevel": "debug",
		"api": { "serverUrl": "https://cms.example.org", "table": "movimenti" },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "https://cms.example.org", viper.GetString("api.serverUrl"))
	assert.Equal(t, "movimenti", viper.GetString("api.table"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	writeConfig(t, dir, `{}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "", viper.GetString("api.serverUrl"))
	assert.Equal(t, "f_persone_f_luoghi", viper.GetString("api.table"))
	assert.Equal(t, 1500, viper.GetInt("timeline.minYear"))
	assert.Equal(t, 1600, viper.GetInt("timeline.maxYear"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// defaults still apply
	assert.Equal(t, "f_persone_f_luoghi", GetAPIConfig().Table)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("MOVEMENTS_LOGLEVEL", "warn")
	t.Setenv("MOVEMENTS_API_TOKEN", "env-token")

	dir := t.TempDir()
	writeConfig(t, dir, `{"logLevel": "debug", "api": {"token": "file-token"}}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "warn", GetString("logLevel"))
	assert.Equal(t, "env-token", GetAPIConfig().Token)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("DIRECTUS_API_URL", "https://legacy.example.org")
	t.Setenv("DIRECTUS_API_TOKEN", "legacy")

	dir := t.TempDir()
	writeConfig(t, dir, `{}`)
	require.NoError(t, Load(dir))

	api := GetAPIConfig()
	assert.Equal(t, "https://legacy.example.org", api.BaseURL)
	assert.Equal(t, "legacy", api.Token)
}

func TestLoad_DotEnvFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Cleanup(func() { os.Unsetenv("MOVEMENTS_API_TABLE") })

	dir := t.TempDir()
	writeConfig(t, dir, `{}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MOVEMENTS_API_TABLE=from_dotenv\n"), 0644))
	require.NoError(t, Load(dir))

	assert.Equal(t, "from_dotenv", GetAPIConfig().Table)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetAPIConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	writeConfig(t, dir, `{"api": {
		"serverUrl": "http://cms:8055", "token": "t", "timeout": "5s",
		"virtualFields": {"where": ["f_luoghi_id.nome_localita", "note_sullo_spostamento"]}
	}}`)
	require.NoError(t, Load(dir))

	api := GetAPIConfig()
	assert.Equal(t, "http://cms:8055", api.BaseURL)
	assert.Equal(t, "t", api.Token)
	assert.Equal(t, 5*time.Second, api.Timeout)
	assert.Equal(t, map[string][]string{
		"where": {"f_luoghi_id.nome_localita", "note_sullo_spostamento"},
	}, api.VirtualFields)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	writeConfig(t, dir, `{
		"storage": { "type": "sqlite", "sqlite": { "path": "/tmp/ledger.db" } },
		"db": { "database": "atlas" }
	}`)
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/ledger.db", sc.SQLite.Path)
	assert.Equal(t, 5*time.Minute, sc.SQLite.DumpInterval)
	assert.Contains(t, sc.Postgres.DSN(), "dbname=atlas")
}

func TestGetExportAndTimelineConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	writeConfig(t, dir, `{
		"export": { "outputDir": "/tmp/out", "compressOutput": true, "bundle": false },
		"timeline": { "minYear": 1450, "fromData": true }
	}`)
	require.NoError(t, Load(dir))

	ec := GetExportConfig()
	assert.Equal(t, "/tmp/out", ec.OutputDir)
	assert.True(t, ec.CompressOutput)
	assert.False(t, ec.Bundle)
	assert.Equal(t, "f_luoghi_id.coordinate", ec.GeometryPath)

	tc := GetTimelineConfig()
	assert.Equal(t, 1450, tc.MinYear)
	assert.Equal(t, 1600, tc.MaxYear)
	assert.True(t, tc.FromData)
}

func TestGetServerConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	writeConfig(t, dir, `{"server": {"port": 9000, "corsOrigins": ["https://a.org"]}}`)
	require.NoError(t, Load(dir))

	sc := GetServerConfig()
	assert.Equal(t, "0.0.0.0:9000", sc.Addr())
	assert.Equal(t, []string{"https://a.org"}, sc.CorsOrigins)
	assert.Equal(t, 60*time.Second, sc.WriteTimeout)
}

func TestGetInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	writeConfig(t, dir, `{"influx": {"enabled": true, "host": "influx", "protocol": "https"}}`)
	require.NoError(t, Load(dir))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "https://influx:8086", ic.URL)
	assert.Equal(t, "movements", ic.Bucket)
	assert.Equal(t, "./logs/influx_backup.lp.gz", ic.BackupPath)
}
