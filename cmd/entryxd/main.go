package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entryx/config"
	"entryx/core/state"
	"entryx/native/settlement"
	"entryx/observability/logging"
	"entryx/rpc"
	"entryx/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ENTRYX_ENV"))
	logger := logging.Setup("entryxd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	mgr := state.NewManager(db)
	proc := settlement.NewProcessor(mgr)
	proc.SetLogger(logger)

	authorizer, err := buildAuthorizer(cfg.AllowedAccounts)
	if err != nil {
		logger.Error("Failed to build authorizer", slog.Any("error", err))
		os.Exit(1)
	}
	proc.SetAuthorizer(authorizer)

	if trimmed := strings.TrimSpace(cfg.AssetAuthority); trimmed != "" {
		authority, err := parseAddress(trimmed)
		if err != nil {
			logger.Error("Invalid asset authority", slog.Any("error", err))
			os.Exit(1)
		}
		proc.SetAssetAuthority(authority)
	}
	for _, module := range cfg.PausedModules {
		proc.SetModulePaused(module, true)
		logger.Warn("Module paused at startup", slog.String("module", module))
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
		logger.Info("Metrics server listening", slog.String("address", addr))
	}

	logger.Info("Starting settlement RPC",
		slog.String("network", cfg.NetworkName),
		slog.String("address", cfg.RPCAddress),
		slog.String("dataDir", cfg.DataDir),
	)
	server := rpc.NewServer(proc)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildAuthorizer(accounts []string) (settlement.Authorizer, error) {
	parsed := make([][20]byte, 0, len(accounts))
	for _, account := range accounts {
		addr, err := parseAddress(account)
		if err != nil {
			return nil, fmt.Errorf("allowed account %q: %w", account, err)
		}
		parsed = append(parsed, addr)
	}
	return settlement.NewStaticAuthorizer(parsed...), nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("expected %d bytes, got %d", len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}
