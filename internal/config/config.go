package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local" validate:"oneof=local dev prod"`
	Camera    Camera    `yaml:"camera"`
	Recording Recording `yaml:"recording"`
	Intervals Intervals `yaml:"intervals"`
	Upload    Upload    `yaml:"upload"`
	Dirs      Dirs      `yaml:"dirs"`
	DB        DB        `yaml:"db"`
	Minio     Minio     `yaml:"minio"`
}

type Camera struct {
	ID           string        `yaml:"id" env:"CAMERA_ID" validate:"required"`
	DevicePath   string        `yaml:"device_path" env:"CAMERA_DEVICE_PATH" env-default:"/dev/video0"`
	Width        int           `yaml:"width" env-default:"1920" validate:"gt=0"`
	Height       int           `yaml:"height" env-default:"1080" validate:"gt=0"`
	FPS          int           `yaml:"fps" env-default:"30" validate:"gt=0"`
	BitrateKbps  int           `yaml:"bitrate_kbps" env-default:"4000" validate:"gt=0"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" env-default:"10s" validate:"gt=0"`
	StopTimeout  time.Duration `yaml:"stop_timeout" env-default:"10s" validate:"gt=0"`
}

type Recording struct {
	Timezone         string        `yaml:"timezone" env:"BOOKING_TIMEZONE" validate:"required"`
	MaxDuration      time.Duration `yaml:"max_duration" env-default:"4h" validate:"gt=0"`
	MaxStartAttempts int           `yaml:"max_start_attempts" env-default:"3" validate:"gt=0"`
}

type Intervals struct {
	BookingPoll  time.Duration `yaml:"booking_poll" env-default:"3s" validate:"gt=0"`
	HealthReport time.Duration `yaml:"health_report" env-default:"3s" validate:"gt=0"`
}

type Upload struct {
	MaxRetries        int           `yaml:"max_retries" env-default:"5" validate:"gt=0"`
	BackoffBase       time.Duration `yaml:"backoff_base" env-default:"10s" validate:"gt=0"`
	BackoffCap        time.Duration `yaml:"backoff_cap" env-default:"5m" validate:"gt=0"`
	DeleteAfterUpload bool          `yaml:"delete_after_upload" env-default:"true"`
}

type Dirs struct {
	Recordings string `yaml:"recordings" env-default:"recordings"`
	Temp       string `yaml:"temp" env-default:"temp"`
	Logs       string `yaml:"logs" env-default:"logs"`
}

type DB struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	Username string `yaml:"username" env:"POSTGRES_USER" validate:"required"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" validate:"required"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	Password string
}

type Minio struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT" validate:"required"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET" env-default:"recordings"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
	AccessKey string
	SecretKey string
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		panic("CONFIG_PATH is required")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	if err := validator.New().Struct(cfg); err != nil {
		panic("invalid config: " + err.Error())
	}

	if _, err := time.LoadLocation(cfg.Recording.Timezone); err != nil {
		panic(fmt.Sprintf("invalid timezone %q: %v", cfg.Recording.Timezone, err))
	}

	return &cfg
}
