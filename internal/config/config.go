package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "movements.cfg.json"

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Environment
// variables prefixed MOVEMENTS_ override file values; a .env file in
// configDir is loaded first if present.
func Load(configDir string) error {
	setDefaults()

	if err := LoadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return err
	}

	viper.SetEnvPrefix("MOVEMENTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// legacy Directus variable names
	_ = viper.BindEnv("api.serverUrl", "MOVEMENTS_API_SERVERURL", "DIRECTUS_API_URL")
	_ = viper.BindEnv("api.token", "MOVEMENTS_API_TOKEN", "DIRECTUS_API_TOKEN")

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("api.serverUrl", "")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.table", "f_persone_f_luoghi")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("api.virtualFields", map[string][]string{})

	viper.SetDefault("timeline.minYear", 1500)
	viper.SetDefault("timeline.maxYear", 1600)
	viper.SetDefault("timeline.fromData", false)

	viper.SetDefault("export.outputDir", "./exports")
	viper.SetDefault("export.compressOutput", false)
	viper.SetDefault("export.bundle", true)
	viper.SetDefault("export.fieldsFile", "")
	viper.SetDefault("export.geometryPath", "f_luoghi_id.coordinate")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "5m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "movements")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "movements")
	viper.SetDefault("influx.bucket", "movements")
	viper.SetDefault("influx.backupPath", "./logs/influx_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.corsOrigins", []string{"*"})
	viper.SetDefault("server.readTimeout", "15s")
	viper.SetDefault("server.writeTimeout", "60s")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// APIConfig is everything the content API client needs.
type APIConfig struct {
	BaseURL string
	Token   string
	Table   string
	Timeout time.Duration
	// VirtualFields maps search aliases to the column paths they cover.
	VirtualFields map[string][]string
}

// TimelineConfig holds the configured year domain.
type TimelineConfig struct {
	MinYear int
	MaxYear int
	// FromData derives the domain from the fetched records instead.
	FromData bool
}

// ExportConfig holds export output settings.
type ExportConfig struct {
	OutputDir      string
	CompressOutput bool
	Bundle         bool
	FieldsFile     string
	// GeometryPath addresses the raw geometry exported to GeoJSON.
	GeometryPath string
}

// SQLiteConfig holds SQLite ledger settings. An empty Path keeps the
// ledger in memory; DumpPath then receives periodic snapshots.
type SQLiteConfig struct {
	Path         string
	DumpPath     string
	DumpInterval time.Duration
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN formats a libpq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		p.Host, p.Port, p.Username, p.Password, p.Database)
}

// StorageConfig selects the export ledger backend.
type StorageConfig struct {
	Type     string
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
	// BackupPath receives gzipped line protocol while InfluxDB is down.
	BackupPath string
}

// GraylogConfig holds GELF output settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	CorsOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr is host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetAPIConfig returns the content API settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		BaseURL: viper.GetString("api.serverUrl"),
		Token:   viper.GetString("api.token"),
		Table:   viper.GetString("api.table"),
		Timeout: viper.GetDuration("api.timeout"),

		VirtualFields: viper.GetStringMapStringSlice("api.virtualFields"),
	}
}

// GetTimelineConfig returns the year domain settings.
func GetTimelineConfig() TimelineConfig {
	return TimelineConfig{
		MinYear:  viper.GetInt("timeline.minYear"),
		MaxYear:  viper.GetInt("timeline.maxYear"),
		FromData: viper.GetBool("timeline.fromData"),
	}
}

// GetExportConfig returns the export settings.
func GetExportConfig() ExportConfig {
	return ExportConfig{
		OutputDir:      viper.GetString("export.outputDir"),
		CompressOutput: viper.GetBool("export.compressOutput"),
		Bundle:         viper.GetBool("export.bundle"),
		FieldsFile:     viper.GetString("export.fieldsFile"),
		GeometryPath:   viper.GetString("export.geometryPath"),
	}
}

// GetStorageConfig returns the ledger backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf("%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetGraylogConfig returns the GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetServerConfig returns the HTTP server settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Host:         viper.GetString("server.host"),
		Port:         viper.GetInt("server.port"),
		CorsOrigins:  viper.GetStringSlice("server.corsOrigins"),
		ReadTimeout:  viper.GetDuration("server.readTimeout"),
		WriteTimeout: viper.GetDuration("server.writeTimeout"),
	}
}
