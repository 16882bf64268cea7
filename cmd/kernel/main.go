// Command kernel bootstraps the industrial-integration actor kernel:
// it wires every actor kind (C4-C11) behind the shared runtime (C2),
// builds the process-wide error sink (C1), and drives an ordered
// shutdown on SIGINT/SIGTERM, following the teacher's
// cmd/worker/main.go bootstrap shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/amqpactor"
	"github.com/besok/parallax/internal/kernel/brokeremu"
	"github.com/besok/parallax/internal/kernel/config"
	"github.com/besok/parallax/internal/kernel/httpactor"
	"github.com/besok/parallax/internal/kernel/kernerr"
	"github.com/besok/parallax/internal/kernel/opcuaactor"
	"github.com/besok/parallax/internal/kernel/periodic"
	"github.com/besok/parallax/internal/kernel/procactor"
	"github.com/besok/parallax/internal/kernel/sqlpoll"
	"github.com/besok/parallax/internal/kernel/sshactor"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "kernel",
		Short: "Industrial-integration actor kernel",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", ".env", "path to a .env configuration file (not consulted: configuration is always read from .env in the working directory)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("kernel: logger init: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := kernerr.NewSink(logger)

	handles, err := spawnAll(ctx, cfg, sink, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down kernel")
	shutdownAll(handles, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	sink.Close(shutdownCtx)

	logger.Info("kernel stopped")
	return nil
}

// spawnAll wires every configured actor behind the runtime. Actors are
// spawned children-last (HTTP first, since it has no other
// dependencies, down through the SQL/AMQP/OPC UA/SSH endpoints, the
// optional broker emulator, and finally the housekeeping and child
// process workers), so the shutdown ordering in shutdownAll can
// reverse it: children before parents. The broker emulator, the
// housekeeping worker, and the child process actor are all gated by
// their own KERNEL_*_ENABLED config flags, defaulting on except for
// the broker emulator (off by default since it binds a second TCP
// listener unconditionally).
func spawnAll(ctx context.Context, cfg *config.Config, sink *kernerr.Sink, logger *zap.Logger) ([]*actor.Handle, error) {
	var handles []*actor.Handle

	httpSrv := httpactor.New("http", httpactor.DefaultConfig(cfg.HTTP.Host, cfg.HTTP.Port), logger)
	httpHandle, err := actor.Spawn(ctx, httpSrv, sink)
	if err != nil {
		return nil, fmt.Errorf("kernel: spawn http actor: %w", err)
	}
	handles = append(handles, httpHandle)

	pool, err := pgxpool.New(ctx, cfg.SQL.DatabaseURL)
	if err != nil {
		logger.Warn("sql poll actor disabled: could not connect to database", zap.Error(err))
	} else {
		poller := sqlpoll.New(
			"sql-poll",
			sqlpoll.PgxPool{Pool: pool},
			cfg.SQL.Interval,
			func(ctx context.Context) (string, []any) {
				return "SELECT description FROM tasks ORDER BY created_at DESC LIMIT 1", nil
			},
			func(rows sqlpoll.Rows) (any, error) {
				var description string
				for rows.Next() {
					if err := rows.Scan(&description); err != nil {
						return nil, err
					}
				}
				return description, nil
			},
			sink, logger,
		)
		pollHandle, err := actor.Spawn(ctx, poller, sink)
		if err != nil {
			return nil, fmt.Errorf("kernel: spawn sql poll actor: %w", err)
		}
		handles = append(handles, pollHandle)
	}

	listener := amqpactor.NewListener("amqp-listener", amqpactor.ListenerConfig{
		URL:          cfg.AMQP.URL,
		Topic:        cfg.AMQP.Topic,
		Subscription: cfg.AMQP.Subscription,
	}, sink, logger)
	amqpHandle, err := actor.Spawn(ctx, listener, sink)
	if err != nil {
		logger.Warn("amqp listener actor disabled: could not start", zap.Error(err))
	} else {
		handles = append(handles, amqpHandle)
	}

	opcuaSrv := opcuaactor.New("opcua", opcuaactor.Config{
		Host:         cfg.OPCUA.Host,
		Port:         cfg.OPCUA.Port,
		AddressSpace: opcuaactor.NewAddressSpace(),
	}, sink, logger)
	opcuaHandle, err := actor.Spawn(ctx, opcuaSrv, sink)
	if err != nil {
		logger.Warn("opc ua actor disabled: could not start", zap.Error(err))
	} else {
		handles = append(handles, opcuaHandle)
	}

	sshSrv := sshactor.New("ssh", sshactor.Config{Host: cfg.SSH.Host, Port: cfg.SSH.Port}, sink, logger)
	sshHandle, err := actor.Spawn(ctx, sshSrv, sink)
	if err != nil {
		logger.Warn("ssh actor disabled: could not bind", zap.Error(err))
	} else {
		handles = append(handles, sshHandle)
	}

	if cfg.Broker.Enabled {
		emu := brokeremu.New("broker-emulator", brokeremu.Config{
			HTTPHost: cfg.Broker.HTTPHost,
			HTTPPort: cfg.Broker.HTTPPort,
			TCPHost:  cfg.Broker.TCPHost,
			TCPPort:  cfg.Broker.TCPPort,
		}, logger)
		emuHandle, err := actor.Spawn(ctx, emu, sink)
		if err != nil {
			logger.Warn("broker emulator actor disabled: could not start", zap.Error(err))
		} else {
			handles = append(handles, emuHandle)
		}
	}

	if cfg.Housekeep.Enabled {
		housekeeper := periodic.New("housekeeping", cfg.Housekeep.Interval, func(ctx context.Context) error {
			logger.Info("kernel housekeeping tick", zap.Int("actor_count", len(handles)))
			return nil
		}, sink, logger)
		housekeepHandle, err := actor.Spawn(ctx, housekeeper, sink)
		if err != nil {
			return nil, fmt.Errorf("kernel: spawn housekeeping worker: %w", err)
		}
		handles = append(handles, housekeepHandle)
	}

	if cfg.ChildProcess.Enabled {
		child := procactor.New("child-process", procactor.Spec{
			Executable: cfg.ChildProcess.Executable,
			Arg:        cfg.ChildProcess.Arg,
		}, logger)
		childHandle, err := actor.Spawn(ctx, child, sink)
		if err != nil {
			logger.Warn("child process actor disabled: could not spawn", zap.Error(err))
		} else {
			handles = append(handles, childHandle)
		}
	}

	return handles, nil
}

// shutdownAll stops actors in reverse spawn order: children before
// parents, mirroring the teacher's consumer.Close() -> cancel() ->
// workerPool.Stop() ordering in cmd/worker/main.go.
func shutdownAll(handles []*actor.Handle, logger *zap.Logger) {
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		h.Stop()
		select {
		case <-h.Done():
		case <-time.After(65 * time.Second):
			logger.Warn("actor did not stop within grace period", zap.String("actor_key", h.Key()))
		}
	}
}
