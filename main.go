package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
	"github.com/hammertrack/recall/internal/intake"
	"github.com/hammertrack/recall/internal/ircpool"
	"github.com/hammertrack/recall/internal/logger"
	"github.com/hammertrack/recall/internal/persistence"
	"github.com/hammertrack/recall/internal/registry"
	"github.com/hammertrack/recall/internal/retention"
)

// core bundles every collaborator main wires together, so Stop has a
// single place to tear them all down in reverse construction order.
type core struct {
	pool      *ircpool.Pool
	persist   persistence.Driver
	scheduler *retention.Scheduler
	schedCtx  context.Context
	schedStop context.CancelFunc

	Intake *intake.API
}

// newCore wires the Channel Registry, IRC Listener Pool, Persistence
// Adapter, Retention Scheduler and Intake API together. The registry and
// pool have an unavoidable construction cycle (the pool dispatches into
// the registry; the registry drives the pool's join/part) broken via
// ircpool.Pool.SetDispatcher.
func newCore(cfg *config.Settings) *core {
	persist, err := persistence.New(cfg)
	if err != nil {
		errors.WrapFatal(err)
	}

	pool := ircpool.New(cfg, nil)
	reg := registry.New(cfg, pool, persist)
	pool.SetDispatcher(reg)

	schedCtx, schedStop := context.WithCancel(context.Background())
	scheduler := &retention.Scheduler{
		Period:    cfg.VacuumPeriod,
		Retention: cfg.Retention,
		Registry:  reg,
		Persist:   persist,
	}

	return &core{
		pool:      pool,
		persist:   persist,
		scheduler: scheduler,
		schedCtx:  schedCtx,
		schedStop: schedStop,
		Intake:    intake.New(reg),
	}
}

func (c *core) Start() {
	go c.scheduler.Run(c.schedCtx)
}

func (c *core) Stop() {
	c.schedStop()
	c.pool.Close()
	if err := c.persist.Close(); err != nil {
		log.Print(err)
	}
}

func waitSigInt() {
	sigint := make(chan os.Signal, 1)
	signal.Notify(
		sigint,
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	<-sigint
	log.Print("stopping recall core")
}

func main() {
	raiseFileLimit()

	cfg := config.Load()
	c := newCore(cfg)
	c.Start()
	waitSigInt()
	c.Stop()
}

func init() {
	spew.Config.Indent = "\t"
	log.SetFlags(0)
	log.SetOutput(logger.New())
	printBanner()
}
