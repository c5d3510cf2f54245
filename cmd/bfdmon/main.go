// cmd/bfdmon/main.go

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"github.com/bfdwatch/bfdmon/pkg/api"
	"github.com/bfdwatch/bfdmon/pkg/config"
	"github.com/bfdwatch/bfdmon/pkg/db"
	"github.com/bfdwatch/bfdmon/pkg/inventory"
	"github.com/bfdwatch/bfdmon/pkg/lifecycle"
	"github.com/bfdwatch/bfdmon/pkg/metrics"
	"github.com/bfdwatch/bfdmon/pkg/poller"
	"github.com/bfdwatch/bfdmon/pkg/snmp"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg := loadConfig(*configPath)

	store, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing audit store: %v", err)
		}
	}()

	registry := inventory.NewRegistry()
	seedInventory(registry, cfg)

	counters := metrics.NewRegistry()

	bfdPoller := poller.New(snmp.NewClient(), store, registry, counters, poller.Config{
		PollInterval:     time.Duration(cfg.PollInterval),
		QueryTimeout:     time.Duration(cfg.QueryTimeout),
		Retries:          cfg.Retries,
		SNMPPort:         cfg.SNMPPort,
		Community:        cfg.Community,
		BFDOperStatusOID: cfg.BFDOperStatusOID,
		MaxAuditRows:     cfg.MaxAuditRows,
	})

	shutdownCh := make(chan struct{})

	var shutdownOnce sync.Once

	apiServer := api.NewServer(store, registry, counters, bfdPoller, func() {
		shutdownOnce.Do(func() { close(shutdownCh) })
	}, api.Config{
		WebhookSecret: cfg.WebhookSecret,
		AdminToken:    cfg.AdminToken,
		DevicesFile:   cfg.DevicesFile,
	})

	store.SetListener(apiServer.EventListener())

	err = lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: "bfdmon",
		Service:     bfdPoller,
		Handler:     apiServer.Router(),
		ShutdownCh:  shutdownCh,
	})
	if err != nil {
		log.Printf("Monitor exited with error: %v", err)
	}

	if _, err := store.Insert("monitor", db.EventShutdown, map[string]interface{}{
		"reason": "process exit",
	}); err != nil {
		log.Printf("Failed to record shutdown event: %v", err)
	}

	log.Printf("Shutdown complete")
}

// loadConfig merges the optional config file with environment overrides so
// secrets can stay out of the file.
func loadConfig(path string) *config.MonitorConfig {
	cfg := &config.MonitorConfig{}

	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	if v := os.Getenv("SNMP_COMMUNITY"); v != "" {
		cfg.Community = v
	} else if cfg.Community == "" {
		cfg.Community = "public"
	}

	if v := os.Getenv("WEBHOOK_HMAC_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}

	if v := os.Getenv("BIND_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if v := os.Getenv("SQLITE_DB"); v != "" {
		cfg.DBPath = v
	}

	if v := os.Getenv("BFD_OPER_STATUS_OID"); v != "" {
		cfg.BFDOperStatusOID = v
	} else if cfg.BFDOperStatusOID == "" {
		cfg.BFDOperStatusOID = config.DefaultBFDOperStatusOID
	}

	if err := config.ValidateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

// seedInventory loads the startup device set: entries from the config file,
// then any persisted devices file on top.
func seedInventory(registry *inventory.Registry, cfg *config.MonitorConfig) {
	for _, d := range cfg.Devices {
		addDevice(registry, inventory.Device{
			Name:      d.Name,
			Host:      d.Host,
			Port:      d.Port,
			Community: d.Community,
			OID:       d.OID,
		})
	}

	if cfg.DevicesFile == "" {
		return
	}

	devices, err := inventory.LoadFile(cfg.DevicesFile)
	if err != nil {
		log.Printf("Failed to load devices file: %v", err)
		return
	}

	for _, d := range devices {
		addDevice(registry, d)
	}
}

func addDevice(registry *inventory.Registry, device inventory.Device) {
	if err := registry.Add(device); err != nil {
		log.Printf("Skipping device %q: %v", device.Name, err)
	}
}
