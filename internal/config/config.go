package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"log"
)

type Config struct {
	Redis     Redis
	SQLite    SQLite
	Worker    Worker
	Webhooks  Webhooks
	N8N       N8N
	Embedding Embedding
	AMQP      AMQP
	API       API
	LogLevel  string `env:"Log_Level" envDefault:"info"`
}

type Redis struct {
	Addr     string `env:"Redis_Address" envDefault:"localhost:6379"`
	Password string `env:"Redis_Password"`
	DB       int    `env:"Redis_DB"`
}

type SQLite struct {
	Path     string `env:"SQLite_Path" envDefault:"hookq.db"`
	PoolSize int    `env:"SQLite_PoolSize"`
}

type Worker struct {
	Queues        []string      `env:"Worker_Queues" envSeparator:","`
	PollInterval  time.Duration `env:"Worker_PollInterval" envDefault:"1s"`
	ErrorBackoff  time.Duration `env:"Worker_ErrorBackoff" envDefault:"5s"`
	MaxConcurrent int           `env:"Worker_MaxConcurrent" envDefault:"10"`
	ShutdownGrace time.Duration `env:"Worker_ShutdownGrace" envDefault:"30s"`
}

type Webhooks struct {
	Secret    string        `env:"Webhook_Secret" envDefault:"default-secret"`
	UserAgent string        `env:"Webhook_UserAgent" envDefault:"hookq-webhook/1.0"`
	Timeout   time.Duration `env:"Webhook_Timeout" envDefault:"30s"`
	ResultTTL time.Duration `env:"Webhook_ResultTTL" envDefault:"24h"`
}

type N8N struct {
	BaseURL string        `env:"N8N_BaseURL"`
	Timeout time.Duration `env:"N8N_Timeout" envDefault:"30s"`
}

type Embedding struct {
	URL       string  `env:"Embedding_URL" envDefault:"https://openrouter.ai/api/v1/embeddings"`
	APIKey    string  `env:"Embedding_APIKey"`
	Model     string  `env:"Embedding_Model" envDefault:"text-embedding-3-small"`
	Dimension int     `env:"Embedding_Dimension" envDefault:"1536"`
	RPS       float64 `env:"Embedding_RPS" envDefault:"5"`
}

type AMQP struct {
	URL       string `env:"AMQP_URL"`
	MailQueue string `env:"AMQP_MailQueue" envDefault:"mail"`
}

type API struct {
	Port int `env:"API_Port" envDefault:"8080"`
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: ignoring .env: %v", err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}

	return &c
}
