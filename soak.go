package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/scenario"
)

func GetSoakCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "soak",
		Aliases: []string{"s"},
		Usage:   "Keep generating and running scenarios until interrupted",
		Flags: append(append([]cli.Flag{
			&cli.UintFlag{
				Name:  "iterations",
				Usage: "Stop after this many scenarios, 0 runs until interrupted",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Directory failing scenarios are written to",
				Value: ".",
			},
			&cli.BoolFlag{
				Name:  "stop-on-failure",
				Usage: "Stop at the first failing scenario",
			},
			&cli.StringFlag{
				Name:    "metrics",
				Usage:   "Serve prometheus metrics on this address, e.g. :9100",
				Sources: cli.EnvVars("SHADOW_METRICS_ADDR"),
			},
		}, generatorFlags...), driverFlags...),
		Action: runSoak,
	}
}

func runSoak(ctx context.Context, cmd *cli.Command) error {
	var wg sync.WaitGroup

	// Create channel used by both the signal handler and soak goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error, 2)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newSoaker(cmd)
	if addr := cmd.String("metrics"); addr != "" {
		serveMetrics(ctx, &wg, addr)
	}
	s.start(ctx, &wg, errc)

	misc.Infof(App.logger, "exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	misc.Infof(App.logger, "waiting on background tasks..")
	wg.Wait()

	runs, failures := s.stats()
	misc.Infof(App.logger, "exited after %d scenarios, %d failed", runs, failures)
	if failures > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d scenarios failed", failures, runs), 1)
	}
	return nil
}

func serveMetrics(ctx context.Context, wg *sync.WaitGroup, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		misc.Infof(App.logger, "serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			misc.Errorf(App.logger, "metrics server: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Soaker repeatedly generates a scenario from the next seed and runs it on the selected
// network. Failing scenarios are kept on disk for replay.
type Soaker struct {
	app        *ShadowApp
	gen        scenario.GeneratorOptions
	opts       scenario.Options
	iterations uint64
	outDir     string
	stopOnFail bool

	// embed mutex for locking the counters below
	sync.RWMutex
	runs     uint64
	failures uint64
}

func newSoaker(cmd *cli.Command) *Soaker {
	return &Soaker{
		app:        App,
		gen:        generatorOptions(cmd),
		opts:       driverOptions(cmd),
		iterations: cmd.Uint("iterations"),
		outDir:     cmd.String("out"),
		stopOnFail: cmd.Bool("stop-on-failure"),
	}
}

func (s *Soaker) start(ctx context.Context, wg *sync.WaitGroup, done chan<- error) {
	misc.Infof(s.app.logger, "Starting soak from seed %d", s.gen.Seed)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); s.iterations == 0 || i < s.iterations; i++ {
			if ctx.Err() != nil {
				return
			}
			err := s.iteration(ctx, soakSeed(s.gen.Seed, i))
			if err != nil && s.stopOnFail {
				done <- fmt.Errorf("stopping on failure: %w", err)
				return
			}
		}
		done <- errors.New("all iterations done")
	}()
}

// soakSeed spreads iterations over seeds, skipping 0 which means "random" on the command line.
func soakSeed(base, i uint64) uint64 {
	seed := base + i
	if seed == 0 {
		seed = 1
	}
	return seed
}

func (s *Soaker) iteration(ctx context.Context, seed uint64) error {
	gen := s.gen
	gen.Seed = seed
	f, err := scenario.Generate(ctx, s.app.logger, s.app.cfg, gen)
	if err == nil {
		path := filepath.Join(s.outDir, fmt.Sprintf("soak-%d.json", seed))
		_, err = s.app.runScenario(ctx, path, f, s.opts)
		if err != nil && ctx.Err() == nil {
			if saveErr := scenario.Save(path, f); saveErr != nil {
				misc.Warnf(s.app.logger, "unable to keep failing scenario: %v", saveErr)
			}
		}
	}
	if ctx.Err() != nil {
		// interrupted runs are neither passes nor failures
		return nil
	}

	s.Lock()
	defer s.Unlock()
	s.runs++
	if err != nil {
		s.failures++
		misc.Errorf(s.app.logger, "seed %d failed: %v", seed, err)
		return err
	}
	misc.Infof(s.app.logger, "seed %d passed (%d runs, %d failures)", seed, s.runs, s.failures)
	return nil
}

func (s *Soaker) stats() (runs, failures uint64) {
	s.RLock()
	defer s.RUnlock()
	return s.runs, s.failures
}
