// Command nodecli runs a single node process in one of the five
// composable roles (spec §6 "CLI surface").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/klingecoin/node/internal/config"
	"github.com/klingecoin/node/internal/logging"
	"github.com/klingecoin/node/internal/node"
)

func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	role := node.Role(os.Args[1])
	switch role {
	case node.RoleFull, node.RoleMiner, node.RoleGateway, node.RoleWallet, node.RoleSPV:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	port, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	var seedAddr string
	if len(os.Args) >= 5 {
		seedAddr = os.Args[3] + ":" + os.Args[4]
	}

	if err := run(role, port, seedAddr); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: nodecli <role> <port> [seed_ip] [seed_port]")
	fmt.Println("  role: one of FULL, MINER, GATEWAY, WALLET, SPV")
}

func run(role node.Role, port int, seedAddr string) error {
	log := logging.New("nodecli", logging.Info, nil)
	cfg := config.Default()

	dataDir := fmt.Sprintf("data-%s-%d", role, port)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	ctx, err := node.NewContext(cfg, log,
		filepath.Join(dataDir, "chain.json"),
		filepath.Join(dataDir, "index.ldb"),
		reg)
	if err != nil {
		return fmt.Errorf("load chain state: %w", err)
	}
	defer ctx.Index.Close()

	n, err := node.Build(ctx, role, fmt.Sprintf(":%d", port), filepath.Join(dataDir, "node.key"))
	if err != nil {
		return fmt.Errorf("compose node: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(seedAddr); err != nil {
		return fmt.Errorf("start network: %w", err)
	}

	var wg sync.WaitGroup

	if n.Miner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.MineLoop(runCtx); err != nil {
				log.Error().Err(err).Msg("mining loop exited")
			}
		}()
	}

	if n.Network != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.PruneMempoolLoop(runCtx, time.Hour)
		}()
	}

	var httpSrv *http.Server
	if n.HTTP != nil {
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", port+1000), Handler: n.HTTP.Handler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("gateway http server exited")
			}
		}()
		log.Info().Str("addr", httpSrv.Addr).Msg("gateway listening")
	}

	log.Info().Str("role", string(role)).Int("port", port).Msg("node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	cancel()
	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
	}
	n.Stop()
	wg.Wait()

	if err := ctx.Persist(); err != nil {
		return fmt.Errorf("persist chain state on shutdown: %w", err)
	}
	log.Info().Msg("chain state persisted, exiting cleanly")
	return nil
}
