package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jbweber/homelab/lares/internal/datastore"
	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

// Config holds all configuration for the lares service
type Config struct {
	Listen             string `mapstructure:"listen" validate:"required"`
	DBPath             string `mapstructure:"db_path" validate:"required"`
	Domain             string `mapstructure:"domain" validate:"required,fqdn"`
	Realm              string `mapstructure:"realm" validate:"required"`
	Organization       string `mapstructure:"organization"`
	OrganizationalUnit string `mapstructure:"organizational_unit"`
	Email              string `mapstructure:"email"`
	Locality           string `mapstructure:"locality"`
	Country            string `mapstructure:"country" validate:"omitempty,len=2"`
	State              string `mapstructure:"state"`

	PKI       PKIConfig       `mapstructure:"pki"`
	Kerberos  KerberosConfig  `mapstructure:"kerberos"`
	Provision ProvisionConfig `mapstructure:"provision"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// PKIConfig locates the certificate store
type PKIConfig struct {
	Root              string        `mapstructure:"root" validate:"required"`
	Validity          time.Duration `mapstructure:"validity" validate:"gt=0"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" validate:"gt=0"`
}

// KerberosConfig selects the realm backend
type KerberosConfig struct {
	Backend         string        `mapstructure:"backend" validate:"oneof=local kadmin"`
	KadminPath      string        `mapstructure:"kadmin_path"`
	AdminPrincipal  string        `mapstructure:"admin_principal"`
	AdminKeytab     string        `mapstructure:"admin_keytab"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout" validate:"gt=0"`
	AllowedServices []string      `mapstructure:"allowed_services"`
}

type ProvisionConfig struct {
	ReturnKeytab bool `mapstructure:"return_keytab"`
}

type DNSConfig struct {
	TTL int `mapstructure:"ttl" validate:"min=1"`
}

type AuthConfig struct {
	RemoteUserHeader string `mapstructure:"remote_user_header" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

var defaults = map[string]any{
	"listen":                    ":8080",
	"db_path":                   "~/lares/data/lares.db",
	"domain":                    "example.org",
	"realm":                     "EXAMPLE.ORG",
	"organization":              "",
	"organizational_unit":       "",
	"email":                     "",
	"locality":                  "",
	"country":                   "",
	"state":                     "",
	"pki.root":                  "~/lares/pki",
	"pki.validity":              "8760h",
	"pki.generation_timeout":    "30s",
	"kerberos.backend":          "local",
	"kerberos.kadmin_path":      "kadmin",
	"kerberos.admin_principal":  "",
	"kerberos.admin_keytab":     "",
	"kerberos.tool_timeout":     "30s",
	"kerberos.allowed_services": domain.KerberosServices,
	"provision.return_keytab":   false,
	"dns.ttl":                   3600,
	"auth.remote_user_header":   "X-Remote-User",
	"log.level":                 "info",
	"log.format":                "text",
}

// Load reads configuration with precedence LARES_* environment variables,
// then the YAML file at path (optional), then defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("LARES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.PKI.Root = expandPath(cfg.PKI.Root)
	return &cfg, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("invalid configuration: %s failed %s", verrs[0].Namespace(), verrs[0].Tag())
	}
	return err
}

// OpenDatabase opens and tunes the SQLite database without touching its
// schema.
func (c *Config) OpenDatabase() (*sql.DB, error) {
	dbPath := expandPath(c.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	OptimizeDatabaseConnection(db)
	if err := ApplyPragmaOptimizations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply performance optimizations: %w", err)
	}
	return db, nil
}

// InitializeDatabase opens the database and brings its schema up to date.
func (c *Config) InitializeDatabase() (*sql.DB, error) {
	db, err := c.OpenDatabase()
	if err != nil {
		return nil, err
	}
	if err := datastore.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
