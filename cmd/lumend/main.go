package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	abciserver "github.com/tendermint/tendermint/abci/server"
	tmlog "github.com/tendermint/tendermint/libs/log"
	"golang.org/x/time/rate"

	"lumenchain/cmd/internal/passphrase"
	"lumenchain/config"
	"lumenchain/consensus"
	"lumenchain/consensus/client"
	"lumenchain/consensus/heights"
	"lumenchain/consensus/store"
	"lumenchain/core/genesis"
	"lumenchain/core/types"
	"lumenchain/crypto"
	"lumenchain/observability"
	"lumenchain/observability/logging"
	"lumenchain/storage"
)

const validatorPassEnv = "LUMEND_VALIDATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file applied on first start")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("LUMEN_ENV"))
	logger := logging.Setup("lumend", env, logging.ParseLevel(cfg.LogLevel))

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	privKey, err := loadValidatorKey(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to load validator key: %v", err))
	}
	logger.Info("validator key loaded", "address", privKey.PubKey().Address().String())

	ledger := heights.New(cfg.LedgerDir)
	adapter, err := consensus.NewAdapter(db, cfg.ChainID, ledger, logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to open application state: %v", err))
	}

	if path := strings.TrimSpace(*genesisFlag); path != "" {
		if err := applyLocalGenesis(adapter, db, path, logger); err != nil {
			panic(fmt.Sprintf("Failed to apply genesis: %v", err))
		}
	}

	srv, err := abciserver.NewServer(cfg.ABCIListen, "socket", adapter)
	if err != nil {
		panic(fmt.Sprintf("Failed to build ABCI server: %v", err))
	}
	srv.SetLogger(tmlog.NewTMLogger(tmlog.NewSyncWriter(os.Stdout)))
	if err := srv.Start(); err != nil {
		panic(fmt.Sprintf("Failed to start ABCI server: %v", err))
	}
	defer srv.Stop()
	logger.Info("abci server listening", "address", cfg.ABCIListen)

	var limiter *rate.Limiter
	if cfg.ForwardRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ForwardRateLimit), cfg.ForwardRateLimit)
	}
	forwarder := client.NewHTTP(cfg.ConsensusRPC, nil, limiter, logger)

	ops := &http.Server{
		Addr:    cfg.OpsAddress,
		Handler: opsRouter(forwarder, client.Mode(cfg.ForwardMode), logger),
	}
	go func() {
		logger.Info("ops server listening", "address", cfg.OpsAddress)
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", "err", err)
	}
}

// loadValidatorKey opens the keystore with an empty passphrase first (the
// default for locally generated keys) and falls back to the operator-supplied
// secret.
func loadValidatorKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	key, err := crypto.LoadFromKeystore(cfg.ValidatorKeystorePath, "")
	if err == nil {
		return key, nil
	}
	pass, passErr := passphrase.NewSource(validatorPassEnv).Get()
	if passErr != nil {
		return nil, fmt.Errorf("%v (initial open: %w)", passErr, err)
	}
	return crypto.LoadFromKeystore(cfg.ValidatorKeystorePath, pass)
}

// applyLocalGenesis seeds state from a local file when no block has been
// committed yet. Engine-driven InitChain remains the canonical path; this
// covers single-node bring-up without an app_state blob.
func applyLocalGenesis(adapter *consensus.Adapter, db storage.Database, path string, logger *slog.Logger) error {
	if _, err := store.New(db).LoadState(); err == nil {
		logger.Info("committed state present, skipping local genesis", "path", path)
		return nil
	}
	doc, err := genesis.LoadFile(path)
	if err != nil {
		return err
	}
	if err := genesis.Apply(adapter.State(), doc); err != nil {
		return err
	}
	logger.Info("local genesis staged", "path", path, "allocs", len(doc.Alloc), "validators", len(doc.Validators))
	return nil
}

func opsRouter(forwarder client.Forwarder, mode client.Mode, logger *slog.Logger) http.Handler {
	metrics := observability.Node()
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/tx", func(w http.ResponseWriter, req *http.Request) {
		var tx types.Transaction
		if err := json.NewDecoder(req.Body).Decode(&tx); err != nil {
			http.Error(w, fmt.Sprintf("decode transaction: %v", err), http.StatusBadRequest)
			return
		}
		if err := forwarder.Forward(req.Context(), &tx, mode); err != nil {
			metrics.ForwardedTxs.WithLabelValues(string(mode), "error").Inc()
			logger.Warn("transaction forward failed", "err", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		metrics.ForwardedTxs.WithLabelValues(string(mode), "ok").Inc()
		w.WriteHeader(http.StatusAccepted)
	})
	return r
}
