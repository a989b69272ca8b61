package config

import "time"

const (
	BusDriverRedis = "redis"
	BusDriverNats  = "nats"
	BusDriverLocal = "local"
)

type AppConfig struct {
	NodeId   int64          `mapstructure:"node_id"` // snowflake node for connection ids
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Bus      BusConfig      `mapstructure:"bus"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Identity IdentityConfig `mapstructure:"identity"`
	Session  SessionConfig  `mapstructure:"session"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`      // http + websocket
	GrpcAddr string `mapstructure:"grpc_addr"` // grpc health, empty disables
	WSPath   string `mapstructure:"ws_path"`
	// AllowedOrigins limits browser upgrades; empty accepts any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RequireToken answers 401 to upgrades carrying no token instead of
	// waiting for an auth frame.
	RequireToken bool `mapstructure:"require_token"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type BusConfig struct {
	Driver           string `mapstructure:"driver"`
	Namespace        string `mapstructure:"namespace"`
	BroadcastPattern string `mapstructure:"broadcast_pattern"` // empty => <namespace>.public.*
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NatsConfig struct {
	Servers       []string      `mapstructure:"servers"`
	Name          string        `mapstructure:"name"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type IdentityConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	MePath       string        `mapstructure:"me_path"`
	FriendsPath  string        `mapstructure:"friends_path"`
	ChannelsPath string        `mapstructure:"channels_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
	JWTSecret    string        `mapstructure:"jwt_secret"` // non-empty => verify tokens locally
	JWTAlg       string        `mapstructure:"jwt_alg"`
}

type SessionConfig struct {
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	RateLimit       float64       `mapstructure:"rate_limit"` // inbound messages per second, <=0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
	CleanupTimeout  time.Duration `mapstructure:"cleanup_timeout"`
}

type FanoutConfig struct {
	Workers int `mapstructure:"workers"`
	Queue   int `mapstructure:"queue"`
}

// BroadcastSubject resolves the shared broadcast pattern.
func (b BusConfig) BroadcastSubject() string {
	if b.BroadcastPattern != "" {
		return b.BroadcastPattern
	}
	return b.Namespace + ".public.*"
}
