package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"tradeflow/internal/types"
)

type Config struct {
	Mode   string `yaml:"mode"`
	Broker struct {
		Provider       string `yaml:"provider"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Paper          bool   `yaml:"paper"`
		BaseURL        string `yaml:"base_url"`
		DataURL        string `yaml:"data_url"`
		Exchange       string `yaml:"exchange"`
		Product        string `yaml:"product"`
		QuoteSource    string `yaml:"quote_source"`
		QuoteSuffix    string `yaml:"quote_suffix"`
	} `yaml:"broker"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Engine struct {
		MaxParallel           int      `yaml:"max_parallel"`
		ReconcileGraceSeconds int      `yaml:"reconcile_grace_seconds"`
		TargetStyles          []string `yaml:"target_styles"`
	} `yaml:"engine"`
	Schedule struct {
		Timezone                string   `yaml:"timezone"`
		TradingDays             []string `yaml:"trading_days"`
		ExecutorAt              string   `yaml:"executor_at"`
		SessionOpen             string   `yaml:"session_open"`
		SessionClose            string   `yaml:"session_close"`
		OrderIntervalMinutes    int      `yaml:"order_interval_minutes"`
		PositionIntervalMinutes int      `yaml:"position_interval_minutes"`
		OrderPostSessionAt      string   `yaml:"order_post_session_at"`
		PositionPostSessionAt   string   `yaml:"position_post_session_at"`
		ReportAt                string   `yaml:"report_at"`
		TickSeconds             int      `yaml:"tick_seconds"`
	} `yaml:"schedule"`
	TradeLog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"tradelog"`
}

// Secrets are read from the environment, never from config.yaml.
type Secrets struct {
	AlpacaKey    string
	AlpacaSecret string
	KiteAPIKey   string
	KiteToken    string
}

func SecretsFromEnv() Secrets {
	return Secrets{
		AlpacaKey:    os.Getenv("ALPACA_API_KEY"),
		AlpacaSecret: os.Getenv("ALPACA_SECRET_KEY"),
		KiteAPIKey:   os.Getenv("KITE_API_KEY"),
		KiteToken:    os.Getenv("KITE_ACCESS_TOKEN"),
	}
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	switch c.Broker.Provider {
	case "ALPACA", "ZERODHA", "PAPER":
	default:
		return fmt.Errorf("broker.provider must be 'ALPACA', 'ZERODHA' or 'PAPER', got '%s'", c.Broker.Provider)
	}
	switch c.Broker.QuoteSource {
	case "", "YAHOO":
	default:
		return fmt.Errorf("broker.quote_source must be empty or 'YAHOO', got '%s'", c.Broker.QuoteSource)
	}
	if c.Mode == "LIVE" && c.Broker.Provider == "PAPER" {
		return errors.New("broker.provider 'PAPER' cannot be used in LIVE mode")
	}
	if c.Broker.TimeoutSeconds <= 0 || c.Broker.TimeoutSeconds > 120 {
		return fmt.Errorf("broker.timeout_seconds must be between 1-120, got %d", c.Broker.TimeoutSeconds)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path cannot be empty")
	}
	if c.Engine.MaxParallel < 1 {
		return fmt.Errorf("engine.max_parallel must be at least 1, got %d", c.Engine.MaxParallel)
	}
	if c.Engine.ReconcileGraceSeconds < 0 {
		return fmt.Errorf("engine.reconcile_grace_seconds cannot be negative, got %d", c.Engine.ReconcileGraceSeconds)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	for _, day := range c.Schedule.TradingDays {
		if _, ok := ParseWeekday(day); !ok {
			return fmt.Errorf("schedule.trading_days: unknown day '%s'", day)
		}
	}
	clocks := map[string]string{
		"executor_at":              c.Schedule.ExecutorAt,
		"session_open":             c.Schedule.SessionOpen,
		"session_close":            c.Schedule.SessionClose,
		"order_post_session_at":    c.Schedule.OrderPostSessionAt,
		"position_post_session_at": c.Schedule.PositionPostSessionAt,
		"report_at":                c.Schedule.ReportAt,
	}
	for key, v := range clocks {
		if _, err := ParseClock(v); err != nil {
			return fmt.Errorf("schedule.%s: %w", key, err)
		}
	}
	open, _ := ParseClock(c.Schedule.SessionOpen)
	closeAt, _ := ParseClock(c.Schedule.SessionClose)
	if closeAt <= open {
		return fmt.Errorf("schedule.session_close %s must be after session_open %s", c.Schedule.SessionClose, c.Schedule.SessionOpen)
	}
	if c.Schedule.OrderIntervalMinutes <= 0 || c.Schedule.PositionIntervalMinutes <= 0 {
		return errors.New("schedule intervals must be positive")
	}
	return nil
}

// TargetStyles returns the configured styles that carry a take-profit leg.
func (c *Config) TargetStyles() []types.TradeStyle {
	out := make([]types.TradeStyle, 0, len(c.Engine.TargetStyles))
	for _, s := range c.Engine.TargetStyles {
		out = append(out, types.ParseTradeStyle(s))
	}
	return out
}

func (c *Config) BrokerTimeout() time.Duration {
	return time.Duration(c.Broker.TimeoutSeconds) * time.Second
}

func (c *Config) ReconcileGrace() time.Duration {
	return time.Duration(c.Engine.ReconcileGraceSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML, applies defaults and validates.
func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()

	if v := os.Getenv("TRADEFLOW_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		c.TradeLog.Dir = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	c.Broker.Provider = strings.ToUpper(c.Broker.Provider)
	c.Broker.QuoteSource = strings.ToUpper(strings.TrimSpace(c.Broker.QuoteSource))
	if c.Broker.Provider == "" {
		c.Broker.Provider = "PAPER"
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "NSE"
	}
	if c.Broker.Product == "" {
		c.Broker.Product = "CNC"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/tradeflow.db"
	}
	if c.Engine.MaxParallel == 0 {
		c.Engine.MaxParallel = 4
	}
	if c.Engine.ReconcileGraceSeconds == 0 {
		c.Engine.ReconcileGraceSeconds = 120
	}
	if len(c.Engine.TargetStyles) == 0 {
		for _, s := range types.DefaultTargetStyles {
			c.Engine.TargetStyles = append(c.Engine.TargetStyles, string(s))
		}
	}

	s := &c.Schedule
	if s.Timezone == "" {
		s.Timezone = "America/New_York"
	}
	if len(s.TradingDays) == 0 {
		s.TradingDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri"}
	}
	if s.ExecutorAt == "" {
		s.ExecutorAt = "09:45"
	}
	if s.SessionOpen == "" {
		s.SessionOpen = "09:30"
	}
	if s.SessionClose == "" {
		s.SessionClose = "16:00"
	}
	if s.OrderIntervalMinutes == 0 {
		s.OrderIntervalMinutes = 5
	}
	if s.PositionIntervalMinutes == 0 {
		s.PositionIntervalMinutes = 10
	}
	if s.OrderPostSessionAt == "" {
		s.OrderPostSessionAt = "18:00"
	}
	if s.PositionPostSessionAt == "" {
		s.PositionPostSessionAt = "18:15"
	}
	if s.ReportAt == "" {
		s.ReportAt = "18:30"
	}
	if s.TickSeconds == 0 {
		s.TickSeconds = 30
	}

	if c.TradeLog.Dir == "" {
		c.TradeLog.Dir = "logs"
	}
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time '%s': want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func ParseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	}
	return 0, false
}
