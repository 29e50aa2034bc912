// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/client-go/kubernetes/scheme"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	appconfig "github.com/fleetctl/workload-controller/internal/config"
	"github.com/fleetctl/workload-controller/internal/canary"
	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/eventbus"
	"github.com/fleetctl/workload-controller/internal/health/history"
	"github.com/fleetctl/workload-controller/internal/janitor"
	"github.com/fleetctl/workload-controller/internal/obs"
	"github.com/fleetctl/workload-controller/internal/planexec"
	"github.com/fleetctl/workload-controller/internal/policy"
	"github.com/fleetctl/workload-controller/internal/ratelimit"
	"github.com/fleetctl/workload-controller/internal/rollback"
)

var version = "dev"

func main() {
	var configPath string
	var namespace string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&namespace, "namespace", "default", "Namespace the driver's fleet-size probe watches")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	audit, err := obs.NewAuditLogger(obs.AuditConfig{
		Enabled: true, LogPath: cfg.Observability.AuditPath, MaxSizeMB: 50, MaxBackups: 5, Compress: true,
	})
	if err != nil {
		logger.Fatal("audit logger init failed", obs.Err(err))
	}
	defer audit.Close()

	restCfg, err := config.GetConfig()
	if err != nil {
		logger.Fatal("unable to load kubernetes client config", obs.Err(err))
	}
	kc, err := ctrlclient.New(restCfg, ctrlclient.Options{Scheme: scheme.Scheme})
	if err != nil {
		logger.Fatal("unable to build kubernetes client", obs.Err(err))
	}
	driver := clusterdriver.NewKubeDriver(kc, logger, clusterdriver.BreakerSettings{
		Window:           cfg.CircuitBreaker.Window,
		CooldownPeriod:   cfg.CircuitBreaker.CooldownPeriod,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		MinSamples:       cfg.CircuitBreaker.MinSamples,
	})

	outbox, err := eventbus.OpenOutbox(cfg.EventBus.OutboxPath)
	if err != nil {
		logger.Fatal("unable to open event outbox", obs.Err(err))
	}
	defer outbox.Close()
	publisher, err := eventbus.NewPublisher(cfg.EventBus.NATSURL, cfg.EventBus.SubjectPrefix, cfg.EventBus.WorkerID, outbox, logger)
	if err != nil {
		logger.Fatal("unable to start event publisher", obs.Err(err))
	}
	defer publisher.Close()

	priceTable := policy.PriceTable{
		CPUCoreHour:  cfg.PriceTable.CPUCoreHour,
		MemGBHour:    cfg.PriceTable.MemGBHour,
		GPUHourBySKU: cfg.PriceTable.GPUHourBySKU,
	}
	if cfg.PriceTable.S3Bucket != "" {
		loader, err := policy.NewS3PriceTableLoader(cfg.PriceTable.S3Region, cfg.PriceTable.S3Bucket, cfg.PriceTable.S3Key)
		if err != nil {
			logger.Fatal("unable to build S3 price table loader", obs.Err(err))
		}
		loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pt, err := loader.Load(loadCtx)
		cancel()
		if err != nil {
			logger.Fatal("unable to load price table from S3", obs.Err(err))
		}
		priceTable = pt
	}

	var buildCtx policy.ContextFunc = policy.DefaultContextFunc
	var healthHistory *history.Store
	if cfg.HealthHistory.Enabled {
		healthHistory, err = history.NewStore(context.Background(), history.Config{
			DSN:      cfg.HealthHistory.DSN,
			Database: cfg.HealthHistory.Database,
			Table:    cfg.HealthHistory.Table,
			Window:   cfg.HealthHistory.Window,
		})
		if err != nil {
			logger.Fatal("unable to open health history store", obs.Err(err))
		}
		defer healthHistory.Close()
		buildCtx = healthHistory.ContextFunc(policy.DefaultContextFunc)
	}

	limiter := ratelimit.New(time.Now)
	engine := policy.NewEngine(priceTable, limiter, buildCtx)

	canaryMgr := canary.NewManager(driver, publisher, logger)
	rollbackCtrl := rollback.NewController(driver, publisher, logger)
	if healthHistory != nil {
		rollbackCtrl = rollbackCtrl.WithHistory(healthHistory)
	}
	fleetSizer := planexec.DriverFleetSizer{Driver: driver, Namespace: namespace}
	// SubmitActionPlan/GetPlanStatus/ApproveDecision are a Go API, not an
	// HTTP one; this process constructs the executor for embedders to call
	// directly rather than fronting it with a server of its own.
	_ = planexec.NewExecutor(engine, driver, canaryMgr, fleetSizer, publisher, logger, cfg.PlanExecutor.MaxConcurrentPlans, cfg.PlanExecutor.DefaultTimeout)

	j, err := janitor.New(janitor.Config{
		SweepCron:       cfg.Janitor.SweepCron,
		RateLimiter:     limiter,
		RateLimitMaxTTL: cfg.RateLimit.SweepInterval,
		Drainer:         publisher,
		DrainBatch:      cfg.EventBus.DrainBatch,
	}, logger)
	if err != nil {
		logger.Fatal("unable to start janitor", obs.Err(err))
	}
	j.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCheck := func(context.Context) error { return nil }
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	statusSrv := &obs.StatusServer{Canaries: canaryMgr, Rollbacks: rollbackCtrl, StartedAt: time.Now()}
	debugSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.StatusPort), Handler: statusSrv.Handler()}
	go func() { _ = debugSrv.ListenAndServe() }()
	defer func() { _ = debugSrv.Shutdown(context.Background()) }()

	go rollbackCtrl.Run(ctx, cfg.Rollback.CheckTick)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
	j.Stop(context.Background())
	cancel()
}
