package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	// DDLUser is the schema-owning role that runs tenant bootstrap and drop
	// DDL. It must differ from User in production: the runtime role only
	// holds DML grants and never owns the tables, so it cannot disable or
	// drop the isolation policies.
	DDLUser         string
	DDLPassword     string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetDDLDSN returns the connection string for the schema-owning DDL role.
// When no DDL role is configured it falls back to the runtime DSN; in that
// single-role deployment the runtime role owns the schemas it queries and
// FORCE ROW LEVEL SECURITY is the only barrier, which is acceptable for
// development only.
func (c *DBConfig) GetDDLDSN() string {
	if c.DDLUser == "" {
		return c.GetDSN()
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.DDLUser, c.DDLPassword, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey       string
	ExpirationHours  int
	ReauthExpiryMins int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// ProvisionConfig holds tenant provisioning configuration
type ProvisionConfig struct {
	// MaxDuration bounds how long a provisioning run may take before it is
	// treated as failed and rolled back.
	MaxDuration     time.Duration
	MaxSlugAttempts int
}

// LifecycleConfig holds export/deletion job configuration
type LifecycleConfig struct {
	// ExportCooldown is the minimum interval between exports of one tenant.
	ExportCooldown time.Duration
	// ArtifactTTL bounds how long export artifacts stay retrievable.
	ArtifactTTL time.Duration
}

// StorageConfig holds object storage (S3) configuration for export artifacts
type StorageConfig struct {
	Bucket   string
	Region   string
	Endpoint string
}

// CollaboratorConfig holds base URLs for the external collaborators the
// lifecycle orchestrator calls out to.
type CollaboratorConfig struct {
	NotifierURL string
	SessionsURL string
}

// Config holds all configuration
type Config struct {
	ServiceName  string
	DB           DBConfig
	Server       ServerConfig
	JWT          JWTConfig
	Log          LogConfig
	Provision    ProvisionConfig
	Lifecycle    LifecycleConfig
	Storage      StorageConfig
	Collaborator CollaboratorConfig
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: getEnv("SERVICE_NAME", "tenant-service"),
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "tenant_app"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DDLUser:         getEnv("DB_DDL_USER", ""),
			DDLPassword:     getEnv("DB_DDL_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "tenant_service"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:       getEnv("JWT_SIGNING_KEY", "defaultsecretkey"),
			ExpirationHours:  getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
			ReauthExpiryMins: getEnvAsInt("JWT_REAUTH_EXPIRY_MINUTES", 5),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Provision: ProvisionConfig{
			MaxDuration:     getEnvAsDuration("PROVISION_MAX_DURATION", 2*time.Minute),
			MaxSlugAttempts: getEnvAsInt("PROVISION_MAX_SLUG_ATTEMPTS", 50),
		},
		Lifecycle: LifecycleConfig{
			ExportCooldown: getEnvAsDuration("EXPORT_COOLDOWN", 24*time.Hour),
			ArtifactTTL:    getEnvAsDuration("EXPORT_ARTIFACT_TTL", 72*time.Hour),
		},
		Storage: StorageConfig{
			Bucket:   getEnv("STORAGE_BUCKET", "tenant-exports"),
			Region:   getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint: getEnv("STORAGE_ENDPOINT", ""),
		},
		Collaborator: CollaboratorConfig{
			NotifierURL: getEnv("NOTIFIER_URL", "http://localhost:8090"),
			SessionsURL: getEnv("SESSIONS_URL", "http://localhost:8091"),
		},
	}

	return config, nil
}

// LogFields returns the configuration as a zap logger-friendly format
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
