package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/defistate/defistate-amm/access"
	"github.com/defistate/defistate-amm/cmd/ammd/config"
	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/journal"
	"github.com/defistate/defistate-amm/ledger"
	"github.com/defistate/defistate-amm/registry"
	"github.com/defistate/defistate-amm/router"
	"github.com/defistate/defistate-amm/rpcapi"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	seedDeadline    = time.Minute
	shutdownTimeout = 5 * time.Second
)

// node is a fully wired AMM: the engine components, the journal and the RPC
// server that exposes them.
type node struct {
	logger   *slog.Logger
	metrics  *prometheus.Registry
	bus      *engine.Bus
	access   *access.Registry
	ledger   *ledger.Memory
	registry *registry.Registry
	router   *router.Router
	journal  *journal.Journal
	rpc      *rpc.Server

	stopJournal context.CancelFunc
	journalDone <-chan error
}

// newNode builds every component from cfg, funds the ledger, fills the
// whitelist and seeds the configured pools. The journal, when enabled, is
// subscribed before seeding so the genesis logs are persisted.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{logger: logger, bus: engine.NewBus()}
	ok := false
	defer func() {
		if !ok {
			n.close()
		}
	}()

	var err error

	n.metrics = prometheus.NewRegistry()
	n.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if !cfg.Journal.Disabled {
		n.journal, err = journal.Open(ctx, journal.Config{
			Driver: cfg.Journal.Driver,
			DSN:    cfg.Journal.DSN,
			Logger: logger.With("component", "journal"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		var journalCtx context.Context
		journalCtx, n.stopJournal = context.WithCancel(ctx)
		n.journalDone = n.journal.Start(journalCtx, n.bus)
	}

	n.access, err = access.New(access.Config{
		Address:   cfg.AccessAddress,
		Owner:     cfg.Owner,
		Publisher: n.bus,
		Logger:    logger.With("component", "access"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create access registry: %w", err)
	}

	n.ledger = ledger.NewMemory()
	n.registry, err = registry.New(registry.Config{
		Address:   cfg.Factory,
		Access:    n.access,
		Ledger:    n.ledger,
		Publisher: n.bus,
		Logger:    logger.With("component", "registry"),
		Registry:  n.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pool registry: %w", err)
	}

	n.router, err = router.New(router.Config{
		Pools:    n.registry,
		Access:   n.access,
		Logger:   logger.With("component", "router"),
		Registry: n.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	svcCfg := rpcapi.Config{
		Pools:  n.registry,
		Access: n.access,
		Quoter: n.router,
		Source: n.bus,
		Logger: logger.With("component", "rpc"),
	}
	if n.journal != nil {
		svcCfg.History = n.journal
	}
	svc, err := rpcapi.NewService(svcCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc service: %w", err)
	}
	n.rpc, err = rpcapi.NewServer(svc)
	if err != nil {
		return nil, err
	}

	if err := n.seed(cfg); err != nil {
		return nil, err
	}
	ok = true
	return n, nil
}

func (n *node) seed(cfg *config.Config) error {
	if len(cfg.Whitelist) > 0 {
		added, err := n.access.BatchAdd(cfg.Owner, cfg.Whitelist)
		if err != nil {
			return fmt.Errorf("failed to seed whitelist: %w", err)
		}
		n.logger.Info("Seeded whitelist", "added", added)
	}

	for _, b := range cfg.Balances {
		if err := n.ledger.Mint(b.Token, b.Holder, b.Amount); err != nil {
			return fmt.Errorf("failed to fund %s with %s: %w", b.Holder.Hex(), b.Token.Hex(), err)
		}
	}

	for i, p := range cfg.Pools {
		amountA, amountB, shares, err := n.router.AddLiquidity(router.AddLiquidityParams{
			Caller:         p.Provider,
			TokenA:         p.TokenA,
			TokenB:         p.TokenB,
			AmountADesired: p.AmountA,
			AmountBDesired: p.AmountB,
			Recipient:      p.Provider,
			Deadline:       time.Now().Add(seedDeadline),
		})
		if err != nil {
			return fmt.Errorf("failed to seed pools[%d]: %w", i, err)
		}
		n.logger.Info("Seeded pool",
			"token_a", p.TokenA.Hex(),
			"token_b", p.TokenB.Hex(),
			"amount_a", amountA,
			"amount_b", amountB,
			"shares", shares,
		)
	}
	return nil
}

// handler routes JSON-RPC over HTTP at /, WebSocket at /ws and metrics at /metrics.
func (n *node) handler(cfg config.RPC) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", n.rpc.WebsocketHandler(cfg.WSOrigins))
	mux.Handle("/metrics", promhttp.HandlerFor(n.metrics, promhttp.HandlerOpts{Registry: n.metrics}))
	mux.Handle("/", withCORS(n.rpc, cfg.CORSOrigins))
	return mux
}

func withCORS(next http.Handler, origins []string) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serve listens on cfg.ListenAddr until ctx is canceled or the journal fails.
func (n *node) serve(ctx context.Context, cfg config.RPC) error {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	httpServer := &http.Server{
		Handler:           n.handler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	n.logger.Info("RPC server listening", "addr", ln.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		n.logger.Error("RPC server failed", "error", runErr)
	case runErr = <-n.journalDone:
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		} else {
			n.logger.Error("Journal stopped", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		n.logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return runErr
}

func (n *node) close() {
	if n.rpc != nil {
		n.rpc.Stop()
	}
	if n.stopJournal != nil {
		n.stopJournal()
		<-n.journalDone
	}
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			n.logger.Warn("Failed to close journal", "error", err)
		}
	}
}
