package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Security    SecurityConfig    `mapstructure:"security"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type SecurityConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	// Users maps operator usernames to bcrypt password hashes for the
	// login endpoint.
	Users map[string]string `mapstructure:"users"`
}

type WorkflowConfig struct {
	Workers          int           `mapstructure:"workers"`
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	StatusTTL        time.Duration `mapstructure:"status_ttl"`
	Retention        time.Duration `mapstructure:"retention"`
	InteractionsFile string        `mapstructure:"interactions_file"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.healthguard")
	viper.AddConfigPath("/etc/healthguard")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mongo.uri", "")
	viper.SetDefault("mongo.database", "healthguard")
	viper.SetDefault("object_store.endpoint", "")
	viper.SetDefault("object_store.region", "us-east-1")
	viper.SetDefault("object_store.bucket", "healthguard-imaging")
	viper.SetDefault("object_store.access_key", "")
	viper.SetDefault("object_store.secret_key", "")
	viper.SetDefault("security.jwt_secret", "healthguard-dev-secret")
	viper.SetDefault("security.token_ttl", 24*time.Hour)
	viper.SetDefault("workflow.workers", 4)
	viper.SetDefault("workflow.step_timeout", 60*time.Second)
	viper.SetDefault("workflow.status_ttl", 15*time.Minute)
	viper.SetDefault("workflow.retention", 0)
	viper.SetDefault("workflow.interactions_file", "")

	viper.SetEnvPrefix("HEALTHGUARD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
