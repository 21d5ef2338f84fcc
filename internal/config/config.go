package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL  string `yaml:"ttl"`
		File string `yaml:"file"`
	} `yaml:"quiz"`
	Engine   EngineConfig   `yaml:"engine"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Log      LogConfig      `yaml:"log"`
}

// EngineConfig tunes the session engine.
type EngineConfig struct {
	MaxSessions     int    `yaml:"max_sessions"`
	DispatchWorkers int    `yaml:"dispatch_workers"`
	DispatchBuffer  int    `yaml:"dispatch_buffer"`
	MarkerTTL       string `yaml:"marker_ttl"`
}

// RabbitMQConfig enables the queue gateway when URL is set.
type RabbitMQConfig struct {
	URL           string `yaml:"url"`
	QuestionQueue string `yaml:"question_queue"`
	ResultQueue   string `yaml:"result_queue"`
	AnswerQueue   string `yaml:"answer_queue"`
	MaxRetries    int    `yaml:"max_retries"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	DefaultMaxSessions     = 100
	DefaultDispatchWorkers = 4
	DefaultDispatchBuffer  = 256
)

// Load reads YAML config from path and fills defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Engine.MaxSessions <= 0 {
		c.Engine.MaxSessions = DefaultMaxSessions
	}
	if c.Engine.DispatchWorkers <= 0 {
		c.Engine.DispatchWorkers = DefaultDispatchWorkers
	}
	if c.Engine.DispatchBuffer <= 0 {
		c.Engine.DispatchBuffer = DefaultDispatchBuffer
	}
	if c.RabbitMQ.QuestionQueue == "" {
		c.RabbitMQ.QuestionQueue = "quiz.questions"
	}
	if c.RabbitMQ.ResultQueue == "" {
		c.RabbitMQ.ResultQueue = "quiz.results"
	}
	if c.RabbitMQ.AnswerQueue == "" {
		c.RabbitMQ.AnswerQueue = "quiz.answers"
	}
	if c.RabbitMQ.MaxRetries <= 0 {
		c.RabbitMQ.MaxRetries = 3
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
