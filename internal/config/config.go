package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel   string   `yaml:"log-level" env-default:"info"`
	HTTPPort   string   `yaml:"http-port" env-default:"9090"`
	SocketPort string   `yaml:"socket-port" env-default:"8080"`
	Redis      Redis    `yaml:"redis"`
	Platform   Platform `yaml:"platform"`
	Game       Game     `yaml:"game"`
}

type Redis struct {
	Host string `yaml:"host" env-default:"localhost"`
	Port string `yaml:"port" env-default:"6379"`
}

// Platform holds credentials for the minigame platform the server exchanges
// login codes with and reports scores to.
type Platform struct {
	AppID      string `yaml:"app-id" env-default:""`
	Secret     string `yaml:"secret" env-default:""`
	APIBaseURL string `yaml:"api-base-url" env-default:"https://api.weixin.qq.com"`
}

type Game struct {
	CountdownMS    int64 `yaml:"countdown-ms" env-default:"60000"`
	TickIntervalMS int64 `yaml:"tick-interval-ms" env-default:"200"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

func (that *Game) Countdown() time.Duration {
	return time.Duration(that.CountdownMS) * time.Millisecond
}

func (that *Game) TickInterval() time.Duration {
	return time.Duration(that.TickIntervalMS) * time.Millisecond
}
