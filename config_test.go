package fdk_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/test"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "config-local.json", `{
		"kafka_rest_proxy": "http://localhost:8082",
		"kafka_rest_proxy_host_rewrite": {"kafkarestproxy-0.kafkarestproxy.confluent.svc.cluster.local": "localhost"},
		"online_store": {"type": "redis", "connection_string": "redis:6379"},
		"offline_store": {"host": "db", "database": "feast", "user": "feast"}
	}`)
	c, err := fdk.LoadConfig(path)
	test.ErrNil(t, err, "loading")
	test.MustBe(t, "http://localhost:8082", c.ConsumerProxyURL)
	test.MustBe(t, "localhost", c.ConsumerHostRewrite["kafkarestproxy-0.kafkarestproxy.confluent.svc.cluster.local"])
	test.MustBe(t, "redis", c.OnlineStore.Type)
	test.MustBe(t, "redis:6379", c.OnlineStore.ConnectionString)
	test.MustBe(t, "db", c.OfflineStore.Host)
	test.MustBe(t, 5432, c.OfflineStore.Port)
	test.MustBe(t, "disable", c.OfflineStore.SSLMode)
	test.MustBe(t, "feast_demo", c.Project)
	test.MustBe(t, []string{"localhost:9092"}, c.KafkaBootstrapServers)
	test.ErrNil(t, c.Validate(), "validating")
}

func TestLoadConfigEnv(t *testing.T) {
	path := writeConfig(t, "config.json", `{"kafka_rest_proxy": "http://localhost:8082"}`)
	t.Setenv("FDK_ONLINE_STORE_TYPE", "leveldb")
	t.Setenv("FDK_PROJECT", "other")
	c, err := fdk.LoadConfig(path)
	test.ErrNil(t, err, "loading")
	test.MustBe(t, "leveldb", c.OnlineStore.Type)
	test.MustBe(t, "other", c.Project)
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := fdk.LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := writeConfig(t, "bad.json", `{"kafka_rest_proxy": `)
	if _, err := fdk.LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}

func TestConfigValidate(t *testing.T) {
	c := fdk.NewConfig()
	test.ErrNil(t, c.Validate(), "defaults")
	test.MustBe(t, "bolt", c.OnlineStore.Type)
	test.MustBe(t, "data/registry.db", c.Registry)

	c.OnlineStore.Type = "sqlite"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown store type")
	}
	c = fdk.NewConfig()
	c.Project = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for empty project")
	}
}
