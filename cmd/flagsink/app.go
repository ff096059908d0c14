package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/flagsink/flagsink/internal/api"
	"github.com/flagsink/flagsink/internal/config"
	"github.com/flagsink/flagsink/internal/flagcodec"
	"github.com/flagsink/flagsink/internal/roster"
	"github.com/flagsink/flagsink/internal/round"
	"github.com/flagsink/flagsink/internal/state"
	"github.com/flagsink/flagsink/internal/stats"
	"github.com/flagsink/flagsink/internal/submit"
)

type flagsinkApp struct {
	envCfg    *config.EnvConfig
	db        *sql.DB
	roster    *roster.Roster
	queues    *submit.QueueSet
	known     *submit.KnownCache
	rounds    *round.Ticker
	collector *stats.Collector
	processor *submit.Processor

	production *submit.Listener
	debug      *submit.Listener // nil when disabled
	apiSrv     *api.Server      // nil when disabled
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	db, err := state.OpenDB(filepath.Join(envCfg.StateDir, "captures.db"))
	if err != nil {
		return fmt.Errorf("open captures db: %w", err)
	}
	if err := state.MigrateCapturesDB(db); err != nil {
		db.Close()
		return fmt.Errorf("migrate captures db: %w", err)
	}
	log.Println("Captures database ready")

	app, err := newFlagsinkApp(envCfg, db)
	if err != nil {
		db.Close()
		return err
	}

	serverErrCh, err := app.start()
	if err != nil {
		app.shutdown()
		return err
	}

	runtimeErr := waitForShutdown(serverErrCh)
	app.shutdown()

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newFlagsinkApp(envCfg *config.EnvConfig, db *sql.DB) (*flagsinkApp, error) {
	ros, err := roster.Load(envCfg.RosterPath, envCfg.TeamSubnetPrefixV4, envCfg.TeamSubnetPrefixV6)
	if err != nil {
		return nil, err
	}
	log.Printf("Roster loaded: %d teams", ros.TeamCount())

	app := &flagsinkApp{
		envCfg:    envCfg,
		db:        db,
		roster:    ros,
		queues:    submit.NewQueueSet(ros.TeamIDs(), envCfg.QueueCapacity),
		rounds:    round.NewTicker(uint32(envCfg.StartRound), envCfg.RoundLength),
		collector: stats.NewCollector(envCfg.StatsSummarySchedule),
	}
	if envCfg.KnownCacheSize > 0 {
		app.known = submit.NewKnownCache(envCfg.KnownCacheSize)
	}

	repo := state.NewCaptureRepo(db)
	app.processor = submit.NewProcessor(submit.ProcessorConfig{
		Workers:        envCfg.BatchWorkers,
		TeamDrainCap:   envCfg.TeamDrainCap,
		BatchCap:       envCfg.BatchCap,
		ValidityRounds: uint32(envCfg.FlagValidityRounds),
	}, app.queues, repo, app.rounds, app.known, app.collector)

	connCfg := submit.ConnConfig{
		Roster:       ros,
		Queues:       app.queues,
		Key:          []byte(envCfg.SigningKey),
		Encoding:     flagcodec.Encoding(envCfg.FlagEncoding),
		MaxLineBytes: envCfg.MaxLineBytes,
		PendingCap:   envCfg.PendingCap,
		Sink:         app.collector,
	}
	app.production = submit.NewListener("production",
		listenAddress(envCfg.ListenAddress, envCfg.SubmissionPort), false, connCfg)
	if envCfg.DebugPort != 0 {
		app.debug = submit.NewListener("debug",
			listenAddress(envCfg.ListenAddress, envCfg.DebugPort), true, connCfg)
	}
	if envCfg.APIPort != 0 {
		app.apiSrv = api.NewServerWithAddress(
			envCfg.ListenAddress,
			envCfg.APIPort,
			envCfg.AdminToken,
			repo,
			app.collector,
			app.rounds,
			ros,
		)
	}
	return app, nil
}

func (a *flagsinkApp) start() (<-chan error, error) {
	a.rounds.Start()
	a.collector.Start()
	a.processor.Start()

	if err := a.production.Start(); err != nil {
		return nil, err
	}
	if a.debug != nil {
		if err := a.debug.Start(); err != nil {
			return nil, err
		}
	}

	serverErrCh := make(chan error, 1)
	if a.apiSrv != nil {
		go func() {
			log.Printf("API server starting on %s", listenAddress(a.envCfg.ListenAddress, a.envCfg.APIPort))
			if err := a.apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case serverErrCh <- fmt.Errorf("api server: %w", err):
				default:
				}
			}
		}()
	}
	return serverErrCh, nil
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("Received server runtime error (%v), shutting down...", err)
		return err
	}
}

// shutdown drains the pipeline in dependency order: stop producing requests,
// close the queues, let the workers finish and sweep, then flush the response
// writers, and only then release shared resources.
func (a *flagsinkApp) shutdown() {
	a.production.Stop()
	if a.debug != nil {
		a.debug.Stop()
	}
	log.Println("Submission endpoints stopped accepting")

	a.queues.Close()
	a.processor.Stop()
	log.Println("Batch processor stopped")

	a.production.Wait()
	if a.debug != nil {
		a.debug.Wait()
	}
	log.Println("Submission connections drained")

	if a.apiSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.apiSrv.Shutdown(ctx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		log.Println("API server stopped")
	}

	a.rounds.Stop()
	a.collector.Stop()
	if a.known != nil {
		a.known.Close()
	}
	if err := a.db.Close(); err != nil {
		log.Printf("Captures database close error: %v", err)
	}
	log.Println("Server stopped")
}

func listenAddress(listenAddr string, port int) string {
	return net.JoinHostPort(listenAddr, strconv.Itoa(port))
}
