package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NiftyApes/hsla-contracts/config"
	"github.com/NiftyApes/hsla-contracts/crypto"
	"github.com/NiftyApes/hsla-contracts/native/lending"
	"github.com/NiftyApes/hsla-contracts/observability/logging"
	"github.com/NiftyApes/hsla-contracts/rpc"
	"github.com/NiftyApes/hsla-contracts/state"
	"github.com/NiftyApes/hsla-contracts/storage"
)

// moduleAddress is the well-known account the engine holds custody under.
var moduleAddress = mustAddress("0x000000000000000000000000000000000000ae51")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logger := logging.Setup("hslad", cfg.Environment)

	admin, err := cfg.Admin()
	if err != nil {
		logger.Error("Failed to resolve admin address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)

	// The daemon serves reads over the persisted tables. Settlement runs
	// through the embedding platform, so no external bridges are wired here.
	engine := lending.NewEngine(moduleAddress, admin, nil, nil, nil)
	engine.SetState(manager)

	for _, mapping := range cfg.AssetMappings {
		asset, err := crypto.ParseAddress(mapping.Asset)
		if err != nil {
			logger.Error("Invalid asset mapping", slog.String("asset", mapping.Asset), slog.Any("error", err))
			os.Exit(1)
		}
		wrapped, err := crypto.ParseAddress(mapping.WrappedAsset)
		if err != nil {
			logger.Error("Invalid asset mapping", slog.String("wrappedAsset", mapping.WrappedAsset), slog.Any("error", err))
			os.Exit(1)
		}
		if err := engine.SetAssetMapping(admin, asset, wrapped); err != nil {
			logger.Error("Failed to seed asset mapping", slog.Any("error", err))
			os.Exit(1)
		}
	}

	server := rpc.NewServer(engine, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Query server listening", slog.String("address", cfg.ListenAddress))
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("HTTP server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func mustAddress(s string) crypto.Address {
	addr, err := crypto.ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}
