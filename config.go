package fdk

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the repository configuration shared by the demo commands.
type Config struct {
	ConsumerProxyURL      string            `mapstructure:"kafka_rest_proxy"`
	ConsumerHostRewrite   map[string]string `mapstructure:"kafka_rest_proxy_host_rewrite"`
	KafkaBootstrapServers []string          `mapstructure:"kafka_bootstrap_servers"`
	SchemaRegistryURL     string            `mapstructure:"schema_registry_url"`

	Project  string `mapstructure:"project"`
	Registry string `mapstructure:"registry"`

	OnlineStore  OnlineStoreConfig  `mapstructure:"online_store"`
	OfflineStore OfflineStoreConfig `mapstructure:"offline_store"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
}

// OnlineStoreConfig selects and locates the online store.
type OnlineStoreConfig struct {
	// Type is one of bolt, leveldb or redis.
	Type             string `mapstructure:"type"`
	Path             string `mapstructure:"path"`
	ConnectionString string `mapstructure:"connection_string"`
}

// OfflineStoreConfig holds postgres connection settings. An empty Host
// means no offline store is configured.
type OfflineStoreConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ArchiveConfig enables archiving of ingested batches to S3 when Bucket is
// set.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

// NewConfig returns a Config holding the defaults.
func NewConfig() *Config {
	v := newViper()
	setConfigDefaults(v)
	c := &Config{}
	// decoding defaults into a fresh struct can't fail
	_ = v.Unmarshal(c)
	return c
}

// keyDelimiter separates nested keys. Host names used as map keys contain
// dots, so viper's default delimiter can't be used.
const keyDelimiter = "::"

func newViper() *viper.Viper {
	return viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("kafka_rest_proxy_host_rewrite", map[string]string{})
	v.SetDefault("kafka_bootstrap_servers", []string{"localhost:9092"})
	v.SetDefault("schema_registry_url", "")
	v.SetDefault("project", "feast_demo")
	v.SetDefault("registry", "data/registry.db")
	v.SetDefault("online_store::type", "bolt")
	v.SetDefault("online_store::path", "data/online_store.db")
	v.SetDefault("online_store::connection_string", "localhost:6379")
	v.SetDefault("offline_store::port", 5432)
	v.SetDefault("offline_store::sslmode", "disable")
	v.SetDefault("archive::region", "us-east-1")
}

// LoadConfig reads the configuration file at path. The format follows the
// file extension and defaults to JSON. Any key may be overridden by an
// environment variable named FDK_ followed by the upper cased key path joined
// by underscores, e.g. FDK_ONLINE_STORE_TYPE.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	setConfigDefaults(v)
	v.SetEnvPrefix("FDK")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading configuration file '%s'", path)
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, errors.Wrapf(err, "decoding configuration file '%s'", path)
	}
	return c, nil
}

// Validate checks settings which can't be checked by decoding.
func (c *Config) Validate() error {
	switch c.OnlineStore.Type {
	case "bolt", "leveldb":
		if c.OnlineStore.Path == "" {
			return errors.Errorf("online store '%s' needs a path", c.OnlineStore.Type)
		}
	case "redis":
		if c.OnlineStore.ConnectionString == "" {
			return errors.New("online store 'redis' needs a connection_string")
		}
	default:
		return errors.Errorf("unknown online store type '%s'", c.OnlineStore.Type)
	}
	if c.Project == "" {
		return errors.New("project must not be empty")
	}
	return nil
}
