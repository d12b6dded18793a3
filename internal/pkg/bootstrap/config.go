package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有进程共享的配置结构
type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Infra   InfraConfig   `yaml:"infra"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type AppConfig struct {
	Name           string        `yaml:"name"`
	Port           int           `yaml:"port"`
	LogLevel       string        `yaml:"logLevel"`
	ReservationTTL time.Duration `yaml:"reservationTTL"`
	ReaperInterval time.Duration `yaml:"reaperInterval"`
	RunReaper      bool          `yaml:"runReaper"`
}

type StorageConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	LockWaitTimeoutSeconds int    `yaml:"lockWaitTimeoutSeconds"`
	MaxOpenConns           int    `yaml:"maxOpenConns"`
	AutoMigrate            bool   `yaml:"autoMigrate"`
}

type InfraConfig struct {
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type RedisConfig struct {
	Addrs       []string      `yaml:"addrs"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SnapshotTTL time.Duration `yaml:"snapshotTTL"`
}

type KafkaConfig struct {
	Brokers             []string `yaml:"brokers"`
	PaymentTopic        string   `yaml:"paymentTopic"`
	OrderTopic          string   `yaml:"orderTopic"`
	ReconciliationTopic string   `yaml:"reconciliationTopic"`
	GroupID             string   `yaml:"groupId"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"dataId"`
}

type WebhookConfig struct {
	Secret    string        `yaml:"secret"`
	Tolerance time.Duration `yaml:"tolerance"`
	Rules     OutcomeRules  `yaml:"rules"`
}

// OutcomeRules 是把支付事件类型映射到结果的 CEL 表达式
type OutcomeRules struct {
	Succeeded string `yaml:"succeeded"`
	Failed    string `yaml:"failed"`
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置，配置中心推送后会被替换
func GetCurrentConfig() *Config {
	if c := currentConfig.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

// SetCurrentConfig 原子地替换当前配置
func SetCurrentConfig(c *Config) {
	currentConfig.Store(c)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:           "inventory-service",
			Port:           8080,
			LogLevel:       "info",
			ReservationTTL: 15 * time.Minute,
			ReaperInterval: time.Minute,
		},
		Storage: StorageConfig{
			Driver:                 "mysql",
			DSN:                    "root:root@tcp(localhost:3306)/stockledger",
			LockWaitTimeoutSeconds: 5,
			MaxOpenConns:           20,
		},
		Infra: InfraConfig{
			Redis: RedisConfig{SnapshotTTL: 30 * time.Second},
			Kafka: KafkaConfig{
				PaymentTopic:        "payment-events",
				OrderTopic:          "order-events",
				ReconciliationTopic: "inventory-reconciliation",
				GroupID:             "inventory-service",
			},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
			Nacos: NacosConfig{
				ServerAddrs: "localhost:8848",
				Group:       "DEFAULT_GROUP",
				DataID:      "stockledger.yaml",
			},
		},
		Webhook: WebhookConfig{
			Tolerance: 5 * time.Minute,
			Rules: OutcomeRules{
				Succeeded: `event_type == "payment_intent.succeeded"`,
				Failed:    `event_type in ["payment_intent.payment_failed", "payment_intent.canceled"]`,
			},
		},
	}
}

// LoadConfig 读取 YAML 配置文件并叠加环境变量
// path 为空或文件不存在时只使用默认值与环境变量
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeYAML 把一段 YAML 叠加到 base 的副本上，base 本身不变
func MergeYAML(base *Config, data []byte) (*Config, error) {
	next := *base
	if err := yaml.Unmarshal(data, &next); err != nil {
		return nil, errors.Wrap(err, "parse remote config")
	}
	return &next, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Storage.DSN, "MYSQL_DSN")
	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setList(&cfg.Infra.Redis.Addrs, "REDIS_ADDRS")
	setList(&cfg.Infra.Kafka.Brokers, "KAFKA_BROKERS")
	setList(&cfg.Infra.Zookeeper.Servers, "ZK_SERVERS")
	setString(&cfg.Infra.Jaeger.Endpoint, "JAEGER_ENDPOINT")
	setString(&cfg.Infra.Nacos.ServerAddrs, "NACOS_SERVER_ADDRS")
	setString(&cfg.Infra.Nacos.Namespace, "NACOS_NAMESPACE")
	setString(&cfg.Infra.Nacos.Group, "NACOS_GROUP")
	setString(&cfg.Webhook.Secret, "WEBHOOK_SECRET")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")

	if v, ok := os.LookupEnv("NACOS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "NACOS_ENABLED")
		}
		cfg.Infra.Nacos.Enabled = b
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "PORT")
		}
		cfg.App.Port = port
	}
	if v, ok := os.LookupEnv("RESERVATION_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "RESERVATION_TTL")
		}
		cfg.App.ReservationTTL = d
	}
	return nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func setString(dst *string, key string) {
	*dst = getEnv(key, *dst)
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}
