package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort       string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL    string `env:"DATABASE_URL"`
	HistoryBackend string `env:"HISTORY_BACKEND" envDefault:"postgres"`
	BadgerPath     string `env:"BADGER_PATH" envDefault:"./data/history"`

	JWTSecret            string `env:"JWT_SECRET,required"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AuthTimeout       time.Duration `env:"AUTH_TIMEOUT" envDefault:"5s"`
	HistoryLimit      int           `env:"HISTORY_LIMIT" envDefault:"50"`
	SendBuffer        int           `env:"SEND_BUFFER" envDefault:"256"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	PongWait          time.Duration `env:"PONG_WAIT" envDefault:"60s"`
	PingInterval      time.Duration `env:"PING_INTERVAL" envDefault:"54s"`
	MaxFrameBytes     int64         `env:"MAX_FRAME_BYTES" envDefault:"65536"`
	MaxMessageRunes   int           `env:"MAX_MESSAGE_RUNES" envDefault:"2000"`
	MaxDecodeErrors   int           `env:"MAX_DECODE_ERRORS" envDefault:"5"`
	RateLimitMessages int           `env:"RATE_LIMIT_MESSAGES" envDefault:"0"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"10s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	CloudinaryURL  string `env:"CLOUDINARY_URL"`
	UploadFolder   string `env:"UPLOAD_FOLDER" envDefault:"room_relay_uploads"`
	UploadMaxBytes int64  `env:"UPLOAD_MAX_BYTES" envDefault:"5242880"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
