package config

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

var ErrConfigPathIsEmpty = errors.New("config path is empty")

type Config struct {
	App     `yaml:"app"`
	Logger  `yaml:"log"`
	Table   `yaml:"table"`
	Mailbox `yaml:"mailbox"`
	Kafka   `yaml:"kafka"`
}

type App struct {
	ServiceName string `yaml:"service_name" env:"APP_SERVICE_NAME" env-default:"reimbot"`
	Version     string `yaml:"version" env:"APP_VERSION"`
}

type Logger struct {
	Level      string   `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	FormatJSON bool     `yaml:"format_json" env:"LOG_FORMAT_JSON"`
	Rotation   Rotation `yaml:"rotation"`
}

type Rotation struct {
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSize    int    `yaml:"max_size" env-default:"10"`
	MaxBackups int    `yaml:"max_backups" env-default:"3"`
	MaxAge     int    `yaml:"max_age" env-default:"7"`
}

type Table struct {
	Path string `yaml:"path" env:"TABLE_PATH" env-default:"data/reimbursements.csv"`
}

type Mailbox struct {
	Addr     string `yaml:"addr" env:"MAILBOX_ADDR" env-default:"imap.gmail.com:993"`
	Username string `yaml:"username" env:"MAILBOX_USERNAME"`
	Password string `yaml:"password" env:"MAILBOX_PASSWORD"`
	Folder   string `yaml:"folder" env:"MAILBOX_FOLDER" env-default:"INBOX"`

	// IdleWait bounds one idle call; RenewAfter stays under the provider's
	// session-expiry window.
	IdleWait       time.Duration `yaml:"idle_wait" env:"MAILBOX_IDLE_WAIT" env-default:"3m"`
	RenewAfter     time.Duration `yaml:"renew_after" env:"MAILBOX_RENEW_AFTER" env-default:"29m"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"MAILBOX_RECONNECT_DELAY" env-default:"60s"`
	RestartDelay   time.Duration `yaml:"restart_delay" env:"MAILBOX_RESTART_DELAY" env-default:"10s"`
}

type Kafka struct {
	Brokers  []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Producer Producer `yaml:"producer"`
}

type Producer struct {
	Topic string `yaml:"topic" env:"KAFKA_PRODUCER_TOPIC" env-default:"reimbursements.processed"`
}

func MustLoadConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		panic(err)
	}

	return cfg
}

func LoadConfig() (*Config, error) {
	var cfg Config

	path := fetchConfigPath()

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, err
		}

		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustPrintConfig(cfg *Config) {
	if err := PrintConfig(cfg); err != nil {
		panic(err)
	}
}

func PrintConfig(cfg *Config) error {
	printable := *cfg
	if printable.Mailbox.Password != "" {
		printable.Mailbox.Password = "***"
	}

	data, err := yaml.Marshal(printable)
	if err != nil {
		return err
	}

	println(string(data))

	return nil
}

func fetchConfigPath() string {
	var result string

	flag.StringVar(&result, "config", "", "Path to config file")
	flag.Parse()

	if result == "" {
		result = os.Getenv("CONFIG_PATH")
	}

	return result
}
