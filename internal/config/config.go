package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultTimezone       = "Europe/Moscow"
	DefaultProvider       = "openai"
	DefaultModel          = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 400
	DefaultLLMTimeout     = 30 * time.Second
	DefaultWeatherTimeout = 10 * time.Second
	DefaultHistoryLimit   = 40
	DefaultDailyLogLimit  = 500
	DefaultRecapMaxChars  = 3000
	DefaultNightStartHour = 22
	DefaultNightEndHour   = 7
	DefaultMorningTime    = "08:30"
	DefaultNightTime      = "21:30"
	DefaultRecapTime      = "21:00"
	DefaultWeekendTime    = "12:00"
	DefaultRandomWindow   = 3
	DefaultRandomFromHour = 10
	DefaultRandomToHour   = 21
	DefaultScheduleGrace  = 30 * time.Minute
	DefaultSendTimeout    = 40 * time.Second
	DefaultSendInterval   = 3 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultBufSize        = 100
)

// ErrMissingToken is returned by Validate when BOT_TOKEN is not set.
var ErrMissingToken = errors.New("BOT_TOKEN is not set")

type Config struct {
	Telegram   TelegramConfig
	Identities IdentityConfig
	LLM        LLMConfig
	Weather    WeatherConfig
	Memory     MemoryConfig
	Schedule   ScheduleConfig
	Log        LogConfig

	Timezone    string `env:"TIMEZONE"`
	PersonaFile string `env:"PERSONA_FILE"`
}

type TelegramConfig struct {
	Token        string        `env:"BOT_TOKEN"`
	TargetChatID int64         `env:"TARGET_CHAT_ID"`
	AdminChatID  int64         `env:"ADMIN_CHAT_ID"`
	AllowFrom    []string      `env:"ALLOW_FROM" envSeparator:","`
	Proxy        string        `env:"TELEGRAM_PROXY"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT"`
	SendRetries  int           `env:"SEND_RETRIES"`
	SendInterval time.Duration `env:"SEND_INTERVAL"`
}

type IdentityConfig struct {
	PrimaryID      int64    `env:"PRIMARY_SUBJECT_ID"`
	PrimaryName    string   `env:"PRIMARY_SUBJECT_NAME"`
	PrimaryAliases []string `env:"PRIMARY_SUBJECT_ALIASES" envSeparator:","`
	SecondaryIDs   []int64  `env:"SECONDARY_IDS" envSeparator:","`
	SecondaryGate  bool     `env:"SECONDARY_CONTENT_GATE"`
	BotAliases     []string `env:"BOT_ALIASES" envSeparator:","`
}

type LLMConfig struct {
	Provider  string        `env:"LLM_PROVIDER"` // "openai" (default) or "anthropic"
	APIKey    string        `env:"LLM_API_KEY"`
	BaseURL   string        `env:"LLM_BASE_URL"`
	Model     string        `env:"LLM_MODEL"`
	MaxTokens int           `env:"LLM_MAX_TOKENS"`
	Timeout   time.Duration `env:"LLM_TIMEOUT"`
}

type WeatherConfig struct {
	APIKey   string        `env:"WEATHER_API_KEY"`
	Location string        `env:"WEATHER_LOCATION"`
	BaseURL  string        `env:"WEATHER_BASE_URL"`
	Timeout  time.Duration `env:"WEATHER_TIMEOUT"`
}

type MemoryConfig struct {
	HistoryLimit  int `env:"HISTORY_LIMIT"`
	DailyLogLimit int `env:"DAILY_LOG_LIMIT"`
	RecapMaxChars int `env:"RECAP_MAX_CHARS"`
}

type ScheduleConfig struct {
	NightStartHour int           `env:"NIGHT_START_HOUR"`
	NightEndHour   int           `env:"NIGHT_END_HOUR"`
	MorningTime    string        `env:"MORNING_TIME"`
	NightTime      string        `env:"NIGHT_TIME"`
	RecapTime      string        `env:"RECAP_TIME"`
	WeekendTime    string        `env:"WEEKEND_TIME"`
	RandomWindow   int           `env:"RANDOM_WINDOW_HOURS"`
	RandomFromHour int           `env:"RANDOM_FROM_HOUR"`
	RandomToHour   int           `env:"RANDOM_TO_HOUR"`
	Grace          time.Duration `env:"SCHEDULE_GRACE"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Timezone: DefaultTimezone,
		Telegram: TelegramConfig{
			SendTimeout:  DefaultSendTimeout,
			SendInterval: DefaultSendInterval,
		},
		Identities: IdentityConfig{
			SecondaryGate: true,
		},
		LLM: LLMConfig{
			Provider:  DefaultProvider,
			MaxTokens: DefaultMaxTokens,
			Timeout:   DefaultLLMTimeout,
		},
		Weather: WeatherConfig{
			Timeout: DefaultWeatherTimeout,
		},
		Memory: MemoryConfig{
			HistoryLimit:  DefaultHistoryLimit,
			DailyLogLimit: DefaultDailyLogLimit,
			RecapMaxChars: DefaultRecapMaxChars,
		},
		Schedule: ScheduleConfig{
			NightStartHour: DefaultNightStartHour,
			NightEndHour:   DefaultNightEndHour,
			MorningTime:    DefaultMorningTime,
			NightTime:      DefaultNightTime,
			RecapTime:      DefaultRecapTime,
			WeekendTime:    DefaultWeekendTime,
			RandomWindow:   DefaultRandomWindow,
			RandomFromHour: DefaultRandomFromHour,
			RandomToHour:   DefaultRandomToHour,
			Grace:          DefaultScheduleGrace,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// LoadConfig reads dotenv files (missing ones are skipped) and then the process
// environment on top of DefaultConfig. Variables already present in the
// environment win over dotenv values.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, path := range dotenvFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultProvider
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		if c.LLM.Provider == "anthropic" {
			c.LLM.Model = DefaultAnthropicModel
		} else {
			c.LLM.Model = DefaultModel
		}
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.Weather.Timeout <= 0 {
		c.Weather.Timeout = DefaultWeatherTimeout
	}
	if c.Memory.HistoryLimit <= 0 {
		c.Memory.HistoryLimit = DefaultHistoryLimit
	}
	if c.Memory.DailyLogLimit <= 0 {
		c.Memory.DailyLogLimit = DefaultDailyLogLimit
	}
	if c.Memory.RecapMaxChars <= 0 {
		c.Memory.RecapMaxChars = DefaultRecapMaxChars
	}
	if c.Telegram.SendTimeout <= 0 {
		c.Telegram.SendTimeout = DefaultSendTimeout
	}
	if c.Telegram.SendRetries < 0 {
		c.Telegram.SendRetries = 0
	}
	// RANDOM_WINDOW_HOURS=0 turns the random job off.
	if c.Schedule.RandomWindow < 0 {
		c.Schedule.RandomWindow = 0
	}
	if c.Schedule.Grace <= 0 {
		c.Schedule.Grace = DefaultScheduleGrace
	}
	c.Identities.PrimaryName = strings.TrimSpace(c.Identities.PrimaryName)
	c.Identities.BotAliases = compact(c.Identities.BotAliases)
	c.Identities.PrimaryAliases = compact(c.Identities.PrimaryAliases)
	c.Telegram.AllowFrom = compact(c.Telegram.AllowFrom)
}

// Validate reports configuration errors that must abort startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, hour := range map[string]int{
		"NIGHT_START_HOUR": c.Schedule.NightStartHour,
		"NIGHT_END_HOUR":   c.Schedule.NightEndHour,
		"RANDOM_FROM_HOUR": c.Schedule.RandomFromHour,
		"RANDOM_TO_HOUR":   c.Schedule.RandomToHour,
	} {
		if hour < 0 || hour > 24 {
			return fmt.Errorf("%s out of range: %d", name, hour)
		}
	}
	for name, value := range map[string]string{
		"MORNING_TIME": c.Schedule.MorningTime,
		"NIGHT_TIME":   c.Schedule.NightTime,
		"RECAP_TIME":   c.Schedule.RecapTime,
		"WEEKEND_TIME": c.Schedule.WeekendTime,
	} {
		if value == "" {
			continue
		}
		if _, _, err := ParseClock(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

// Location resolves TIMEZONE; an empty value means DefaultTimezone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// LLMEnabled reports whether a generation backend credential is configured.
func (c *Config) LLMEnabled() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}

// WeatherEnabled reports whether the weather collaborator can be queried.
func (c *Config) WeatherEnabled() bool {
	return strings.TrimSpace(c.Weather.APIKey) != "" && strings.TrimSpace(c.Weather.Location) != ""
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func compact(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
