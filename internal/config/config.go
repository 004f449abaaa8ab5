package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type Mongo struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type Bolt struct {
	Path string `mapstructure:"path"`
}

type Storage struct {
	// Driver selects the transaction/boost request backend: postgres, mongo or bolt.
	Driver    string `mapstructure:"driver"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
	Bolt      Bolt   `mapstructure:"bolt"`
}

type Redis struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl-seconds"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	BoostNotifications string `mapstructure:"boost-notifications"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Gateway struct {
	URL                   string   `mapstructure:"url"`
	ApplicationID         string   `mapstructure:"application-id"`
	Password              string   `mapstructure:"password"`
	PaymentInstrumentName string   `mapstructure:"payment-instrument-name"`
	TimeoutMs             int      `mapstructure:"timeout-ms"`
	SuccessCode           string   `mapstructure:"success-code"`
	PendingCodes          []string `mapstructure:"pending-codes"`
}

type Webhook struct {
	AckCode string `mapstructure:"ack-code"`
}

type Boost struct {
	HandoffTimeoutMs int `mapstructure:"handoff-timeout-ms"`
}

type SMS struct {
	URL       string `mapstructure:"url"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
}

type Sweeper struct {
	IntervalMs     int `mapstructure:"interval-ms"`
	SettleWithinMs int `mapstructure:"settle-within-ms"`
	RepairWindowMs int `mapstructure:"repair-window-ms"`
	FetchSize      int `mapstructure:"fetch-size"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Mongo    Mongo    `mapstructure:"mongo"`
	Storage  Storage  `mapstructure:"storage"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Gateway  Gateway  `mapstructure:"gateway"`
	Webhook  Webhook  `mapstructure:"webhook"`
	Boost    Boost    `mapstructure:"boost"`
	SMS      SMS      `mapstructure:"sms"`
	Sweeper  Sweeper  `mapstructure:"sweeper"`
	Server   Server   `mapstructure:"server"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("mongo.database", "boost")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.timeout-ms", 800)
	v.SetDefault("storage.bolt.path", "boost.db")
	v.SetDefault("redis.ttl-seconds", 300)
	v.SetDefault("kafka.broker.url", "localhost:9092")
	v.SetDefault("kafka.topic.boost-notifications", "boost-notifications")
	v.SetDefault("kafka.reader.group-id", "boost-service")
	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)
	v.SetDefault("gateway.timeout-ms", 5000)
	v.SetDefault("gateway.success-code", "S1000")
	v.SetDefault("gateway.payment-instrument-name", "Mobile Account")
	v.SetDefault("webhook.ack-code", "S1000")
	v.SetDefault("boost.handoff-timeout-ms", 5000)
	v.SetDefault("sms.timeout-ms", 10_000)
	v.SetDefault("sweeper.interval-ms", 60_000)
	v.SetDefault("sweeper.settle-within-ms", 6*60*60*1000)
	v.SetDefault("sweeper.repair-window-ms", 24*60*60*1000)
	v.SetDefault("sweeper.fetch-size", 200)
	v.SetDefault("server.port", "8080")
	v.SetDefault("metrics.interval-ms", 10_000)
}

// LoadConfig reads config.yaml from path. Every key can be overridden by an
// environment variable, e.g. BOOST_GATEWAY_TIMEOUT_MS for gateway.timeout-ms.
// A missing config file is not an error; defaults and environment still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("boost")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
