package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/uhyunpark/exchangemarket/params"
	"github.com/uhyunpark/exchangemarket/pkg/api"
	"github.com/uhyunpark/exchangemarket/pkg/app"
	"github.com/uhyunpark/exchangemarket/pkg/crypto"
	"github.com/uhyunpark/exchangemarket/pkg/custody"
	"github.com/uhyunpark/exchangemarket/pkg/escrow"
	"github.com/uhyunpark/exchangemarket/pkg/events"
	"github.com/uhyunpark/exchangemarket/pkg/ledger"
	"github.com/uhyunpark/exchangemarket/pkg/transaction"
	"github.com/uhyunpark/exchangemarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Custody + ledger ----
	custodian, err := custody.NewCustodian(cfg.Program.ID, cfg.Program.CustodySeed)
	if err != nil {
		sugar.Fatalw("custodian_init_failed", "err", err)
	}
	l, err := ledger.Open(cfg.Node.DataDir, custodian, sugar.Named("ledger"))
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "data_dir", cfg.Node.DataDir, "err", err)
	}
	defer l.Close()

	// ---- Events ----
	hub := api.NewHub(sugar.Named("ws"))
	go hub.Run(ctx)

	fanout := events.NewFanout(sugar.Named("events"), hub)
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer kp.Close()
		fanout.Add(kp)
		sugar.Infow("kafka_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	// ---- App ----
	domain := crypto.EIP712Domain{
		Name:              cfg.Program.Name,
		Version:           cfg.Program.Version,
		ChainID:           cfg.Program.ChainID,
		VerifyingContract: cfg.Program.ID,
	}
	engine := escrow.NewEngine(l, custodian, sugar.Named("escrow"))
	node, err := app.New(l, engine, transaction.NewVerifier(domain), fanout, app.Config{
		MaxBlockBytes: cfg.Node.MaxBlockBytes,
		EnableFaucet:  cfg.Node.EnableFaucet,
	}, sugar.Named("app"))
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"program_id", cfg.Program.ID.Hex(),
		"chain_id", cfg.Program.ChainID,
		"height", node.Height(),
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
		"faucet", cfg.Node.EnableFaucet)

	// ---- API Server ----
	apiServer := api.NewServer(node, hub, cfg.Node.CORSOrigins, sugar.Named("api"))
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Block loop ----
	ticker := time.NewTicker(cfg.Node.MinBlockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Infow("node_stopping", "height", node.Height())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				sugar.Warnw("api_shutdown_failed", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if _, err := node.ProduceBlock(ctx); err != nil {
				sugar.Errorw("block_failed", "height", node.Height()+1, "err", err)
			}
		}
	}
}
