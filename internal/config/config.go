package config

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
	"github.com/spf13/viper"

	cerrors "cdcflow/internal/errors"
)

// Config is built once at startup and handed to the loader, client and builder.
type Config struct {
	NiFi   NiFiConfig   `mapstructure:",squash"`
	Ledger LedgerConfig `mapstructure:",squash"`
}

type NiFiConfig struct {
	BaseURL            string        `mapstructure:"nifi_api_base_url"`
	Username           string        `mapstructure:"nifi_api_username"`
	Password           string        `mapstructure:"nifi_api_password"`
	RootProcessGroupID string        `mapstructure:"nifi_root_process_group_id"`
	ProcessGroupName   string        `mapstructure:"nifi_cdc_process_group_name"`
	RequireAuth        bool          `mapstructure:"nifi_require_auth"`
	RequestTimeout     time.Duration `mapstructure:"nifi_request_timeout"`
	ServiceSettleDelay time.Duration `mapstructure:"nifi_service_settle_delay"`
	WaitForServices    bool          `mapstructure:"nifi_wait_for_services"`
	ServiceWaitTimeout time.Duration `mapstructure:"nifi_service_wait_timeout"`
}

// HasCredentials reports whether a login should be attempted.
func (c NiFiConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// LedgerConfig points at the MySQL database recording created flows.
// An empty Host disables the ledger.
type LedgerConfig struct {
	Host     string `mapstructure:"ledger_host"`
	Port     int    `mapstructure:"ledger_port"`
	User     string `mapstructure:"ledger_user"`
	Password string `mapstructure:"ledger_password"`
	Database string `mapstructure:"ledger_database"`
}

func (l LedgerConfig) Enabled() bool {
	return l.Host != ""
}

// GetDSN 返回数据库连接字符串
func (l LedgerConfig) GetDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = l.User
	cfg.Passwd = l.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
	cfg.DBName = l.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Load reads the process environment, optionally seeded from <basePath>/.env.
// Real environment variables take precedence over the file.
func Load(basePath string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	envFile := filepath.Join(basePath, ".env")
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read %s", envFile)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Annotate(err, "decode environment configuration")
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("nifi_api_username", "")
	v.SetDefault("nifi_api_password", "")
	v.SetDefault("nifi_root_process_group_id", "root")
	v.SetDefault("nifi_cdc_process_group_name", "CDC-Flows")
	v.SetDefault("nifi_require_auth", false)
	v.SetDefault("nifi_request_timeout", 30*time.Second)
	v.SetDefault("nifi_service_settle_delay", 2*time.Second)
	v.SetDefault("nifi_wait_for_services", false)
	v.SetDefault("nifi_service_wait_timeout", time.Minute)
	v.SetDefault("ledger_port", 3306)
	v.SetDefault("ledger_database", "cdcflow")
}

// bindEnv registers keys that have no default so AutomaticEnv can see them.
func bindEnv(v *viper.Viper) error {
	for _, key := range []string{
		"nifi_api_base_url",
		"ledger_host",
		"ledger_user",
		"ledger_password",
	} {
		if err := v.BindEnv(key); err != nil {
			return errors.Annotatef(err, "bind environment key %s", key)
		}
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.NiFi.BaseURL == "" {
		return cerrors.ErrMissingBaseURL.GenWithStackByArgs()
	}
	u, err := url.Parse(cfg.NiFi.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("NIFI_API_BASE_URL must be an absolute URL, got " + cfg.NiFi.BaseURL)
	}
	if cfg.NiFi.RootProcessGroupID == "" {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("NIFI_ROOT_PROCESS_GROUP_ID must not be empty")
	}
	if cfg.NiFi.RequireAuth && !cfg.NiFi.HasCredentials() {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("NIFI_REQUIRE_AUTH is set but credentials are missing")
	}
	if cfg.NiFi.ServiceSettleDelay < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("NIFI_SERVICE_SETTLE_DELAY must not be negative")
	}
	if cfg.Ledger.Enabled() && cfg.Ledger.Port <= 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("LEDGER_PORT must be greater than 0")
	}
	return nil
}
