package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug                     bool
		TestMode                  bool
		AppName                   string
		Env                       string // DEV (local; default), TEST, QA, PROD
		Build                     string
		SecretKey                 string
		FrontendBaseURL           string
		WorkDir                   string
		RollbarToken              string
		SendgridApiKey            string
		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Store    StoreConfig
		Events   EventsConfig
		Files    FilesConfig

		defaultFromEmail string
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		DisableReqLogs            bool
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// StoreConfig selects the record store backend: "memory" or "postgres".
	StoreConfig struct {
		Backend        string
		EnforceIndexes bool
	}

	// EventsConfig selects the domain event bus: "local" or "redis".
	EventsConfig struct {
		Backend       string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		Queue         string
		DLQSuffix     string
	}

	// FilesConfig selects the file storage backend: "memory", "s3" or "b2".
	FilesConfig struct {
		Backend string
		S3      S3Config
		B2      B2Config
	}

	S3Config struct {
		Endpoint  string
		Region    string
		Bucket    string
		AccessKey string
		SecretKey string
		UseSSL    bool
	}

	B2Config struct {
		AccountID string
		AppKey    string
		Bucket    string
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

// DefaultFromEmail parses the configured sender address, falling back to a bare address.
func (c *Config) DefaultFromEmail() mail.Address {
	if addr, err := mail.ParseAddress(c.defaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Shule")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.disableReqLogs", false)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "shule")
	v.SetDefault("database.user", "shule")
	v.SetDefault("database.password", "shule")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.enforceIndexes", false)

	v.SetDefault("events.backend", "local")
	v.SetDefault("events.redisAddr", "localhost:6379")
	v.SetDefault("events.redisPassword", "")
	v.SetDefault("events.redisDB", 0)
	v.SetDefault("events.queue", "shule:events")
	v.SetDefault("events.dlqSuffix", ":dlq")

	v.SetDefault("files.backend", "memory")
	v.SetDefault("files.s3.endpoint", "")
	v.SetDefault("files.s3.region", "us-east-1")
	v.SetDefault("files.s3.bucket", "shule")
	v.SetDefault("files.s3.accessKey", "")
	v.SetDefault("files.s3.secretKey", "")
	v.SetDefault("files.s3.useSSL", true)
	v.SetDefault("files.b2.accountID", "")
	v.SetDefault("files.b2.appKey", "")
	v.SetDefault("files.b2.bucket", "shule")

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		Env:                       env,
		Build:                     v.GetString("build"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		WorkDir:                   workDir,
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			DisableReqLogs:            v.GetBool("server.disableReqLogs"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Store: StoreConfig{
			Backend:        v.GetString("store.backend"),
			EnforceIndexes: v.GetBool("store.enforceIndexes"),
		},
		Events: EventsConfig{
			Backend:       v.GetString("events.backend"),
			RedisAddr:     v.GetString("events.redisAddr"),
			RedisPassword: v.GetString("events.redisPassword"),
			RedisDB:       v.GetInt("events.redisDB"),
			Queue:         v.GetString("events.queue"),
			DLQSuffix:     v.GetString("events.dlqSuffix"),
		},
		Files: FilesConfig{
			Backend: v.GetString("files.backend"),
			S3: S3Config{
				Endpoint:  v.GetString("files.s3.endpoint"),
				Region:    v.GetString("files.s3.region"),
				Bucket:    v.GetString("files.s3.bucket"),
				AccessKey: v.GetString("files.s3.accessKey"),
				SecretKey: v.GetString("files.s3.secretKey"),
				UseSSL:    v.GetBool("files.s3.useSSL"),
			},
			B2: B2Config{
				AccountID: v.GetString("files.b2.accountID"),
				AppKey:    v.GetString("files.b2.appKey"),
				Bucket:    v.GetString("files.b2.bucket"),
			},
		},
	}
}

// NewTestConfig returns a Config suitable for unit tests: no dotenv, no env lookups.
func NewTestConfig() *Config {
	return &Config{
		Debug:                     false,
		TestMode:                  true,
		AppName:                   "Shule",
		Env:                       "TEST",
		Build:                     "test",
		SecretKey:                 "secret",
		FrontendBaseURL:           "http://localhost:3000",
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		defaultFromEmail:          "noreply@localhost",
		Server: ServerConfig{
			Host:                      "localhost",
			DisableReqLogs:            true,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Store:  StoreConfig{Backend: "memory"},
		Events: EventsConfig{Backend: "local"},
		Files:  FilesConfig{Backend: "memory"},
	}
}
