package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/bridge"
	"github.com/dokzlo13/huebridge/internal/config"
	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/db"
	"github.com/dokzlo13/huebridge/internal/geo"
	"github.com/dokzlo13/huebridge/internal/ledger"
	"github.com/dokzlo13/huebridge/internal/mqtt"
	"github.com/dokzlo13/huebridge/internal/server"
	"github.com/dokzlo13/huebridge/internal/storage/kv"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Storage *kv.Manager
	Ledger  *ledger.Ledger
	GeoCalc *geo.Calculator

	// Emulated bridges, in configuration order
	Bridges []*bridge.Bridge

	// High-level services
	Mirror  *mqtt.Mirror
	Health  *HealthService
	History *HistoryService

	started []*bridge.Bridge
}

// OpenStorage opens the SQLite database and the configured state backend.
// The returned manager must be closed before the database.
func OpenStorage(cfg *config.Config) (*db.DB, *kv.Manager, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Storage.Driver {
	case kv.DriverBolt:
		manager, err := kv.NewBoltManager(cfg.Storage.BoltPath)
		if err != nil {
			database.Close()
			return nil, nil, err
		}
		return database, manager, nil
	default:
		return database, kv.NewSQLiteManager(database.DB), nil
	}
}

// BridgeConfig maps the i-th configured bridge to its runtime settings.
func BridgeConfig(cfg *config.Config, i int) bridge.Config {
	bc := cfg.Bridges[i]
	out := bridge.Config{
		Name: bc.Name,
		Network: datastore.Network{
			Address:         bc.Address,
			Netmask:         bc.Netmask,
			Gateway:         bc.Gateway,
			MAC:             bc.MAC,
			HTTPPort:        bc.Port,
			HTTPSPort:       bc.HTTPSPort,
			ExternalAddress: bc.ExternalAddress,
			ExternalPort:    bc.ExternalPort,
		},
		BindAddress:  bc.Bind,
		RuleInterval: cfg.Rules.Interval.Duration(),
		HTTP: server.Options{
			RateLimit:    cfg.HTTP.RateLimitRPS,
			Burst:        cfg.HTTP.Burst,
			ReadTimeout:  cfg.HTTP.ReadTimeout.Duration(),
			WriteTimeout: cfg.HTTP.WriteTimeout.Duration(),
		},
		SSDP:            cfg.SSDP.Enabled,
		SSDPInterval:    cfg.SSDP.Interval.Duration(),
		Script:          bc.Script,
		ShutdownTimeout: cfg.ShutdownTimeout.Duration(),
	}
	// Only one process can own a .local name, so the first bridge answers mDNS.
	if cfg.MDNS.Enabled && i == 0 {
		out.MDNSHostname = cfg.MDNS.Hostname
	}
	return out
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database and state storage
	database, manager, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Storage = manager

	// Initialize ledger
	if cfg.History.Enabled {
		s.Ledger = ledger.New(database.DB)
	}

	// Shared between bridges; the calculator caches per location and day
	s.GeoCalc = geo.NewCalculator()

	for i := range cfg.Bridges {
		bcfg := BridgeConfig(cfg, i)
		bucket, err := manager.Bucket(datastore.BridgeID(bcfg.Network.MAC))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bridge %s: %w", bcfg.Network.MAC, err)
		}
		opts := []bridge.Option{bridge.WithCalculator(s.GeoCalc)}
		if s.Ledger != nil {
			opts = append(opts, bridge.WithLedger(s.Ledger))
		}
		s.Bridges = append(s.Bridges, bridge.New(bucket, bcfg, opts...))
	}

	// Initialize health service
	s.Health = NewHealthService(cfg, s.Bridges)

	// Initialize history cleanup
	s.History = NewHistoryService(cfg, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	for _, b := range s.Bridges {
		if err := b.Start(ctx); err != nil {
			s.stopBridges()
			return fmt.Errorf("bridge %s: %w", b.BridgeID(), err)
		}
		s.started = append(s.started, b)
	}

	// Mirror attaches after Start so that loaded state is not replayed as events
	if s.cfg.MQTT.Enabled {
		mirror, err := mqtt.Connect(mqtt.Config{
			Broker:      s.cfg.MQTT.Broker,
			ClientID:    s.cfg.MQTT.ClientID,
			Username:    s.cfg.MQTT.Username,
			Password:    s.cfg.MQTT.Password,
			TopicPrefix: s.cfg.MQTT.TopicPrefix,
			QoS:         byte(s.cfg.MQTT.QoS),
		})
		if err != nil {
			s.stopBridges()
			return err
		}
		s.Mirror = mirror
		for _, b := range s.Bridges {
			b := b
			if err := b.Do(ctx, func(*datastore.Datastore) { mirror.Add(b) }); err != nil {
				log.Warn().Err(err).Str("bridge", b.BridgeID()).Msg("Failed to attach MQTT mirror")
			}
		}
	}

	// Start all background services
	s.Health.Start(ctx)
	s.History.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

func (s *Services) stopBridges() {
	for i := len(s.started) - 1; i >= 0; i-- {
		s.started[i].Stop()
	}
	s.started = nil
}

// Close releases all resources.
func (s *Services) Close() {
	s.stopBridges()
	if s.Mirror != nil {
		s.Mirror.Close()
		s.Mirror = nil
	}
	if s.Storage != nil {
		if err := s.Storage.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close state storage")
		}
		s.Storage = nil
	}
	if s.DB != nil {
		s.DB.Close()
		s.DB = nil
	}
}

