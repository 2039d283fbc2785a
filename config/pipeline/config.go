package config

import "github.com/ilyakaznacheev/cleanenv"

type Config struct {
	Port        int    `env:"PORT"`
	DatabaseURL string `env:"DATABASE_URL"`

	MediaDir     string        `env:"MEDIA_DIR" env-default:"media"`
	MediaBaseURL string        `env:"MEDIA_BASE_URL"`
	MediaSignKey string        `env:"MEDIA_SIGN_KEY"`
	Transcode    ServiceConfig `env-prefix:"TRANSCODE_"`
	Speech       ServiceConfig `env-prefix:"SPEECH_"`
	OpenAIKey    string        `env:"OPENAI_API_KEY"`
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
