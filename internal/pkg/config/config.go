// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Payment   PaymentConfig   `yaml:"payment"`
}

type StoreConfig struct {
	// Driver selects the stock store backend: mysql, redis or memory.
	Driver    string `yaml:"driver"`
	MySQLDSN  string `yaml:"mysql_dsn"`
	RedisAddr string `yaml:"redis_addr"`
}

type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	ReconcileTopic string   `yaml:"reconcile_topic"`
	ConsumerGroup  string   `yaml:"consumer_group"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ZookeeperConfig struct {
	Servers []string `yaml:"servers"`
}

type LedgerConfig struct {
	// OpTimeout bounds a single reserve/release round-trip to the store.
	OpTimeout time.Duration `yaml:"op_timeout"`
	// RetryMax and RetryBaseDelay drive the bounded exponential backoff
	// applied to transient store failures.
	RetryMax       int           `yaml:"retry_max"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

type ReconcileConfig struct {
	// PolicyExpr is a CEL expression evaluated against each reconcile task.
	// It must yield the severity route for the task ("ticket" or "page").
	PolicyExpr    string        `yaml:"policy_expr"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// StuckAfter is how long an order may sit in processing before the
	// sweeper flags it for manual review.
	StuckAfter time.Duration `yaml:"stuck_after"`
}

type PaymentConfig struct {
	GatewayURL string `yaml:"gateway_url"`
}

// Load reads the YAML file at path (if it exists) and then applies
// environment overrides on top. Missing values fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:    "memory",
			MySQLDSN:  "root:root@tcp(localhost:3306)/atlas?parseTime=true",
			RedisAddr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			ReconcileTopic: "stock-reconcile-tasks",
			ConsumerGroup:  "reconcile-worker",
		},
		Nacos: NacosConfig{
			ServerAddrs: "localhost:8848",
			Group:       "DEFAULT_GROUP",
		},
		Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
		Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}},
		Ledger: LedgerConfig{
			OpTimeout:      8 * time.Second,
			RetryMax:       3,
			RetryBaseDelay: 100 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			PolicyExpr:    `amount_cents > 10000 || reason == "refund_failed" ? "page" : "ticket"`,
			SweepInterval: time.Minute,
			StuckAfter:    15 * time.Minute,
		},
		Payment: PaymentConfig{GatewayURL: "http://localhost:8090"},
	}
}

func (c *Config) applyEnv() {
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.MySQLDSN = getEnv("MYSQL_DSN", c.Store.MySQLDSN)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Kafka.Brokers = splitComma(v)
	}
	c.Kafka.ReconcileTopic = getEnv("RECONCILE_TOPIC", c.Kafka.ReconcileTopic)
	c.Kafka.ConsumerGroup = getEnv("RECONCILE_GROUP", c.Kafka.ConsumerGroup)
	c.Nacos.Enabled = getBoolEnv("NACOS_ENABLED", c.Nacos.Enabled)
	c.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Nacos.ServerAddrs)
	c.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Nacos.Namespace)
	c.Nacos.Group = getEnv("NACOS_GROUP", c.Nacos.Group)
	c.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Jaeger.Endpoint)
	if v := getEnv("ZK_SERVERS", ""); v != "" {
		c.Zookeeper.Servers = splitComma(v)
	}
	c.Ledger.RetryMax = getIntEnv("LEDGER_RETRY_MAX", c.Ledger.RetryMax)
	c.Reconcile.PolicyExpr = getEnv("RECONCILE_POLICY", c.Reconcile.PolicyExpr)
	c.Payment.GatewayURL = getEnv("PAYMENT_GATEWAY_URL", c.Payment.GatewayURL)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBoolEnv(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
