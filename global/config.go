package global

import (
	"go.uber.org/zap"

	"PRelay/global/config"
	"PRelay/logger"
	mid "PRelay/middleware"
	"PRelay/service/bus"
	"PRelay/service/chat"
	"PRelay/service/identity"
	"PRelay/tools/errs"
	"PRelay/tools/security"
)

func ConfigAll(cfg *config.AppConfig) {
	ConfigLogger(cfg)
	ConfigMiddleware(cfg)
}

func ConfigLogger(cfg *config.AppConfig) {
	logger.SetLevel(cfg.Log.Level)
}

func ConfigMiddleware(cfg *config.AppConfig) {
	m := mid.Manager()
	m.Clear()
	m.Add(mid.RequestLog(), mid.Origin(cfg.Server.WSPath, cfg.Server.AllowedOrigins))
}

// ConfigBus connects the configured bus driver.
func ConfigBus(cfg *config.AppConfig) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case config.BusDriverRedis:
		return bus.NewRedis(bus.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	case config.BusDriverNats:
		return bus.NewNats(bus.NatsConfig{
			Servers:       cfg.Nats.Servers,
			Name:          cfg.Nats.Name,
			User:          cfg.Nats.User,
			Password:      cfg.Nats.Password,
			ReconnectWait: cfg.Nats.ReconnectWait,
			Timeout:       cfg.Nats.Timeout,
		})
	case config.BusDriverLocal:
		logger.Warn("using in-process bus, nothing outside this process can publish")
		return bus.NewLocal(), nil
	}
	return nil, errs.New("unknown bus driver", "driver", cfg.Bus.Driver)
}

// ConfigIdentity builds the identity gateway. With a jwt secret configured,
// tokens are verified locally and only lookups go over HTTP.
func ConfigIdentity(cfg *config.AppConfig) identity.Gateway {
	var gw identity.Gateway = identity.NewHTTPGateway(identity.HTTPConfig{
		BaseURL:      cfg.Identity.BaseURL,
		MePath:       cfg.Identity.MePath,
		FriendsPath:  cfg.Identity.FriendsPath,
		ChannelsPath: cfg.Identity.ChannelsPath,
		Timeout:      cfg.Identity.Timeout,
	})
	if cfg.Identity.JWTSecret != "" {
		opts := security.DefaultOptions([]byte(cfg.Identity.JWTSecret))
		if cfg.Identity.JWTAlg != "" {
			opts.Alg = cfg.Identity.JWTAlg
		}
		gw = identity.NewJWTGateway(gw, opts)
		logger.Info("identity: local jwt verification", zap.String("alg", opts.Alg))
	}
	return gw
}

func ConfigRelay(cfg *config.AppConfig, b bus.Bus, gw identity.Gateway) *chat.Server {
	return chat.NewServer(b, gw, chat.Options{
		Namespace:        bus.Namespace(cfg.Bus.Namespace),
		BroadcastPattern: cfg.Bus.BroadcastSubject(),
		Client: chat.ClientConf{
			SendQueueSize: cfg.Session.SendQueueSize,
			WriteWait:     cfg.Session.WriteWait,
			PingInterval:  cfg.Session.PingInterval,
		},
		Session: chat.SessionConf{
			AuthTimeout:     cfg.Session.AuthTimeout,
			PongWait:        cfg.Session.PongWait,
			MaxMessageBytes: cfg.Session.MaxMessageBytes,
			RateLimit:       cfg.Session.RateLimit,
			RateBurst:       cfg.Session.RateBurst,
			CleanupTimeout:  cfg.Session.CleanupTimeout,
		},
		FanoutWorkers: cfg.Fanout.Workers,
		FanoutQueue:   cfg.Fanout.Queue,
		NodeID:        cfg.NodeId,
	})
}
