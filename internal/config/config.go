package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"vpnshop/internal/pkg/utils"
)

const (
	StoreDriverFile  = "file"
	StoreDriverMySQL = "mysql"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Bot      BotConfig
	Shop     ShopConfig
	Store    StoreConfig
	Cron     CronConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type BotConfig struct {
	Token           string
	WebhookURL      string
	WebhookSecret   string
	WebhookIPCheck  bool
	AdminIDs        []int64
	GroupID         int64
	SupportUsername string
}

type ShopConfig struct {
	CardNumber         string
	CardName           string
	BlacklistOnReject  bool
	DeliverQR          bool
	RateLimitPerMinute int
}

type StoreConfig struct {
	Driver  string
	DataDir string
}

type CronConfig struct {
	Backup string
	Report string
}

// ValidationError lists every missing or malformed variable at once.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid environment variables: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()

	// Short names are what older deployments export.
	_ = v.BindEnv("BOT_TOKEN", "BOT_TOKEN", "TOKEN")
	_ = v.BindEnv("BOT_WEBHOOK_URL", "BOT_WEBHOOK_URL", "WEBHOOK_URL")
	_ = v.BindEnv("APP_PORT", "APP_PORT", "PORT")
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("APP_PORT"),
			Env:  v.GetString("APP_ENV"),
		},
		Database: databaseConfig(v),
		Redis: RedisConfig{
			Addr: v.GetString("REDIS_ADDR"),
			Pass: v.GetString("REDIS_PASS"),
			DB:   v.GetInt("REDIS_DB"),
		},
		Bot: BotConfig{
			Token:           strings.TrimSpace(v.GetString("BOT_TOKEN")),
			WebhookURL:      strings.TrimRight(strings.TrimSpace(v.GetString("BOT_WEBHOOK_URL")), "/"),
			WebhookSecret:   v.GetString("BOT_WEBHOOK_SECRET"),
			WebhookIPCheck:  v.GetBool("WEBHOOK_IP_CHECK"),
			SupportUsername: v.GetString("SUPPORT_USERNAME"),
		},
		Shop: ShopConfig{
			CardNumber:         strings.TrimSpace(v.GetString("CARD_NUMBER")),
			CardName:           strings.TrimSpace(v.GetString("CARD_NAME")),
			BlacklistOnReject:  v.GetBool("BLACKLIST_ON_REJECT"),
			DeliverQR:          v.GetBool("DELIVER_QR"),
			RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		},
		Store: StoreConfig{
			Driver:  strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
			DataDir: v.GetString("DATA_DIR"),
		},
		Cron: CronConfig{
			Backup: v.GetString("BACKUP_SCHEDULE"),
			Report: v.GetString("REPORT_SCHEDULE"),
		},
	}

	verr := &ValidationError{}
	need := func(name, value string) {
		if value == "" {
			verr.Missing = append(verr.Missing, name)
		}
	}
	need("BOT_TOKEN", cfg.Bot.Token)
	need("BOT_WEBHOOK_URL", cfg.Bot.WebhookURL)
	need("ADMIN_IDS", strings.TrimSpace(v.GetString("ADMIN_IDS")))
	need("CARD_NUMBER", cfg.Shop.CardNumber)
	need("CARD_NAME", cfg.Shop.CardName)

	if cfg.Bot.WebhookURL != "" {
		if u, err := url.Parse(cfg.Bot.WebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			verr.Invalid = append(verr.Invalid, "BOT_WEBHOOK_URL (must be an https URL)")
		}
	}

	ids, bad := utils.ParseIDList(v.GetString("ADMIN_IDS"))
	if len(bad) > 0 {
		verr.Invalid = append(verr.Invalid, "ADMIN_IDS ("+strings.Join(bad, ", ")+" is not a number)")
	} else if len(ids) == 0 && strings.TrimSpace(v.GetString("ADMIN_IDS")) != "" {
		verr.Invalid = append(verr.Invalid, "ADMIN_IDS (no ids listed)")
	}
	cfg.Bot.AdminIDs = ids

	if raw := strings.TrimSpace(v.GetString("ADMIN_GROUP_ID")); raw != "" {
		groupIDs, bad := utils.ParseIDList(raw)
		if len(bad) > 0 || len(groupIDs) != 1 {
			verr.Invalid = append(verr.Invalid, "ADMIN_GROUP_ID (must be a single chat id)")
		} else {
			cfg.Bot.GroupID = groupIDs[0]
		}
	}

	switch cfg.Store.Driver {
	case StoreDriverFile:
	case StoreDriverMySQL:
		need("DB_NAME", cfg.Database.Name)
	default:
		verr.Invalid = append(verr.Invalid, fmt.Sprintf("STORE_DRIVER (%q is not file or mysql)", cfg.Store.Driver))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		verr.Invalid = append(verr.Invalid, "APP_PORT (out of range)")
	}
	if cfg.Shop.RateLimitPerMinute < 0 {
		verr.Invalid = append(verr.Invalid, "RATE_LIMIT_PER_MINUTE (must not be negative)")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, sched := range []struct{ name, spec string }{
		{"BACKUP_SCHEDULE", cfg.Cron.Backup},
		{"REPORT_SCHEDULE", cfg.Cron.Report},
	} {
		if sched.spec == "" {
			continue
		}
		if _, err := parser.Parse(sched.spec); err != nil {
			verr.Invalid = append(verr.Invalid, sched.name+" ("+err.Error()+")")
		}
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return nil, verr
	}
	return cfg, nil
}

// LoadDatabaseOnly reads just what --bootstrap-db needs, so the schema
// can be prepared before the bot itself is configured.
func LoadDatabaseOnly() (*Config, error) {
	_ = godotenv.Load()
	return loadDatabase(viper.New())
}

func loadDatabase(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server:   ServerConfig{Env: v.GetString("APP_ENV")},
		Database: databaseConfig(v),
		Store:    StoreConfig{Driver: StoreDriverMySQL, DataDir: v.GetString("DATA_DIR")},
	}
	if cfg.Database.Name == "" {
		return nil, &ValidationError{Missing: []string{"DB_NAME"}}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 10000)
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_CHARSET", "utf8mb4")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SUPPORT_USERNAME", "@manava_vpn")
	v.SetDefault("DATA_DIR", ".")
	v.SetDefault("STORE_DRIVER", StoreDriverFile)
	v.SetDefault("BLACKLIST_ON_REJECT", false)
	v.SetDefault("DELIVER_QR", true)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("WEBHOOK_IP_CHECK", false)
	v.SetDefault("BACKUP_SCHEDULE", "0 0 3 * * *")
	v.SetDefault("REPORT_SCHEDULE", "0 45 23 * * *")
}

func databaseConfig(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		Host:    v.GetString("DB_HOST"),
		Port:    v.GetString("DB_PORT"),
		Name:    v.GetString("DB_NAME"),
		User:    v.GetString("DB_USER"),
		Pass:    v.GetString("DB_PASS"),
		Charset: v.GetString("DB_CHARSET"),
	}
}

// IsDevelopment reports whether verbose development logging is wanted.
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(s.Env, "development")
}

// WebhookEndpoint is the public URL Telegram posts updates to.
func (b BotConfig) WebhookEndpoint() string {
	return b.WebhookURL + "/webhook/" + b.Token
}

// IsAdmin reports whether id is listed in ADMIN_IDS.
func (b BotConfig) IsAdmin(id int64) bool {
	for _, admin := range b.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
