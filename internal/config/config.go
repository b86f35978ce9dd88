package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

type Config struct {
	LogLevel      string  `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort      string  `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort    string  `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	SessionSecret string  `yaml:"session-secret" env:"SESSION_SECRET" env-default:"change-me"`
	Storage       Storage `yaml:"storage"`
	Redis         Redis   `yaml:"redis"`
	Room          Room    `yaml:"room"`
	Chat          Chat    `yaml:"chat"`
	Janitor       Janitor `yaml:"janitor"`
}

type Storage struct {
	Driver     string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"redis"`
	SQLitePath string `yaml:"sqlite-path" env:"SQLITE_PATH" env-default:"rooms.db"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

// Room - who moves first, which slot a joiner gets, and how long a finished round stays on screen.
type Room struct {
	TurnPolicy     string        `yaml:"turn-policy" env-default:"fixed"`
	SlotPolicy     string        `yaml:"slot-policy" env-default:"first-available"`
	AutoResetDelay time.Duration `yaml:"auto-reset-delay" env-default:"0s"`
}

type Chat struct {
	RateLimitWindow time.Duration `yaml:"rate-limit-window" env-default:"10s"`
	MaxLength       int           `yaml:"max-length" env-default:"500"`
}

type Janitor struct {
	Interval   time.Duration `yaml:"interval" env-default:"1m"`
	MinSpacing time.Duration `yaml:"min-spacing" env-default:"5s"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	if err := config.Validate(); err != nil {
		panic(fmt.Errorf("invalid config: %w", err))
	}

	return config
}

func (that *Config) Validate() error {
	switch that.Storage.Driver {
	case DriverRedis, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", that.Storage.Driver)
	}

	if that.Chat.MaxLength <= 0 {
		return fmt.Errorf("chat max-length must be positive, got %d", that.Chat.MaxLength)
	}

	if that.Chat.RateLimitWindow < 0 {
		return fmt.Errorf("chat rate-limit-window must not be negative, got %s", that.Chat.RateLimitWindow)
	}

	if that.Janitor.Interval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got %s", that.Janitor.Interval)
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
