package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"PRelay/tools/errs"
	"PRelay/tools/ids"

	"github.com/spf13/viper"
)

const EnvPrefix = "RELAY"

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("node_id", 1)

	vip.SetDefault("server.addr", ":8082")
	vip.SetDefault("server.grpc_addr", ":50052")
	vip.SetDefault("server.ws_path", "/ws")
	vip.SetDefault("server.allowed_origins", []string{})
	vip.SetDefault("server.require_token", false)

	vip.SetDefault("log.level", "info")

	vip.SetDefault("bus.driver", BusDriverRedis)
	vip.SetDefault("bus.namespace", "relay")
	vip.SetDefault("bus.broadcast_pattern", "")

	vip.SetDefault("redis.addr", "127.0.0.1:6379")
	vip.SetDefault("redis.password", "")
	vip.SetDefault("redis.db", 0)
	vip.SetDefault("redis.pool_size", 0)

	vip.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	vip.SetDefault("nats.name", "presence-relay")
	vip.SetDefault("nats.reconnect_wait", 500*time.Millisecond)
	vip.SetDefault("nats.timeout", 3*time.Second)

	vip.SetDefault("identity.base_url", "http://127.0.0.1:8000")
	vip.SetDefault("identity.me_path", "/api/me")
	vip.SetDefault("identity.friends_path", "/api/friends")
	vip.SetDefault("identity.channels_path", "/api/channels")
	vip.SetDefault("identity.timeout", 5*time.Second)
	vip.SetDefault("identity.jwt_secret", "")
	vip.SetDefault("identity.jwt_alg", "HS256")

	vip.SetDefault("session.auth_timeout", 10*time.Second)
	vip.SetDefault("session.send_queue_size", 256)
	vip.SetDefault("session.write_wait", 10*time.Second)
	vip.SetDefault("session.ping_interval", 25*time.Second)
	vip.SetDefault("session.pong_wait", 60*time.Second)
	vip.SetDefault("session.max_message_bytes", 1<<20)
	vip.SetDefault("session.rate_limit", 20.0)
	vip.SetDefault("session.rate_burst", 40)
	vip.SetDefault("session.cleanup_timeout", 5*time.Second)

	vip.SetDefault("fanout.workers", 4)
	vip.SetDefault("fanout.queue", 1024)
}

// Load reads config.yaml from dir (if present) and RELAY_* environment
// variables on top of built-in defaults. An empty dir skips the file.
func Load(dir string) (*AppConfig, error) {
	vip := viper.New()
	setDefaults(vip)

	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	if dir != "" {
		vip.AddConfigPath(dir)
		vip.SetConfigName("config")
		vip.SetConfigType("yaml")
		if err := vip.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errs.WrapMsg(err, "read config", "dir", dir)
			}
		}
	}

	var cfg AppConfig
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching file or env.
func Default() *AppConfig {
	vip := viper.New()
	setDefaults(vip)
	var cfg AppConfig
	_ = vip.Unmarshal(&cfg)
	return &cfg
}

func (c *AppConfig) Validate() error {
	switch c.Bus.Driver {
	case BusDriverRedis, BusDriverNats, BusDriverLocal:
	default:
		return fmt.Errorf("config: unknown bus.driver %q", c.Bus.Driver)
	}
	if strings.TrimSpace(c.Bus.Namespace) == "" {
		return fmt.Errorf("config: bus.namespace is empty")
	}
	if strings.ContainsAny(c.Bus.Namespace, "*?[] ") {
		return fmt.Errorf("config: bus.namespace %q contains pattern characters", c.Bus.Namespace)
	}
	if c.Identity.BaseURL == "" && c.Identity.JWTSecret == "" {
		return fmt.Errorf("config: identity.base_url is empty")
	}
	if c.Session.SendQueueSize <= 0 {
		return fmt.Errorf("config: session.send_queue_size must be positive")
	}
	if c.NodeId < 0 || c.NodeId > ids.MaxNode {
		return fmt.Errorf("config: node_id %d out of range 0..%d", c.NodeId, ids.MaxNode)
	}
	if c.Fanout.Workers <= 0 || c.Fanout.Queue <= 0 {
		return fmt.Errorf("config: fanout.workers and fanout.queue must be positive")
	}
	return nil
}
