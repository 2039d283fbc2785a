package config

import "github.com/ilyakaznacheev/cleanenv"

type Config struct {
	Port        int    `env:"PORT"`
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`

	RealtimeURL    string `env:"REALTIME_API_URL"`
	RealtimeAPIKey string `env:"REALTIME_API_KEY"`

	Transcode ServiceConfig `env-prefix:"TRANSCODE_"`
}

type ServiceConfig struct {
	URL    string `env:"API_URL"`
	APIKey string `env:"API_KEY"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}
	return &cfg
}
