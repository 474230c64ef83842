package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/printmesh/placement/autoscaler"
	"github.com/printmesh/placement/config"
	"github.com/printmesh/placement/controller"
	"github.com/printmesh/placement/estimator"
	"github.com/printmesh/placement/events"
	"github.com/printmesh/placement/nodestore"
	"github.com/printmesh/placement/placement"
	"github.com/printmesh/placement/tenantmetrics"
)

func main() {
	// Parse command line flags
	var (
		configFile = flag.String("config", "", "Path to YAML configuration file")
		// Direct flags for running without a config file
		etcdAddr       = flag.String("etcd", "localhost:2379", "Etcd address")
		etcdPrefix     = flag.String("etcd-prefix", nodestore.DefaultPrefix, "Etcd key prefix")
		natsURL        = flag.String("nats", "", "NATS URL for migration events (optional)")
		natsSubject    = flag.String("nats-subject", events.DefaultSubject, "NATS subject for migration events")
		provisionerURL = flag.String("provisioner", "", "Provisioner base URL (optional; scaling disabled without it)")
		metricsAddr    = flag.String("metrics", "", "HTTP address for Prometheus metrics (optional, e.g. ':9090')")
		interval       = flag.Duration("interval", controller.DefaultInterval, "Control loop interval")
	)
	flag.Parse()

	var cfg *config.Config
	if *configFile != "" {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
		log.Printf("Starting placement controller with configuration from %s", *configFile)
	} else {
		cfg = &config.Config{
			Etcd: config.EtcdConfig{
				Endpoints: []string{*etcdAddr},
				Prefix:    *etcdPrefix,
			},
			Nats: config.NatsConfig{
				URL:     *natsURL,
				Subject: *natsSubject,
			},
			Controller: config.ControllerConfig{
				RebalanceIntervalSeconds: int(interval.Seconds()),
				MetricsAddr:              *metricsAddr,
			},
		}
		cfg.Controller.ScaleCooldownSeconds = int(autoscaler.DefaultCooldown.Seconds())
		log.Printf("Starting placement controller with direct configuration (etcd: %s)", *etcdAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Node store
	store := nodestore.NewEtcdStore(cfg.Etcd.Endpoints, cfg.Etcd.Prefix)
	if err := store.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect to etcd: %v", err)
	}
	defer store.Close()

	// Tenant metrics store; without Postgres every tenant gets the default weight
	var metricsStore tenantmetrics.Store
	if cfg.Postgres != nil {
		pg, err := tenantmetrics.NewPostgresStore(cfg.Postgres)
		if err != nil {
			log.Fatalf("Failed to open metrics store: %v", err)
		}
		metricsStore = pg
	} else {
		log.Printf("No metrics store configured, using default weights")
		metricsStore = tenantmetrics.NewMemoryStore()
	}
	defer metricsStore.Close()

	// Migration event publisher
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Nats.URL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.Nats.URL, cfg.Nats.Subject)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		publisher = natsPub
	}
	defer publisher.Close()

	// Provisioner
	var provisioner autoscaler.Provisioner = autoscaler.DisabledProvisioner{}
	if *provisionerURL != "" {
		provisioner = autoscaler.NewHTTPProvisioner(*provisionerURL)
	}

	est := estimator.New(metricsStore)
	pc := placement.NewController(store, est, publisher)
	scaler := autoscaler.New(store, pc, provisioner, autoscaler.Config{
		Cooldown:           cfg.ScaleCooldown(),
		ScaleUpThreshold:   cfg.Controller.ScaleUpThreshold,
		ScaleDownThreshold: cfg.Controller.ScaleDownThreshold,
		NodeCapacity:       cfg.Controller.DefaultNodeCapacity,
	})
	ctrl := controller.New(pc, scaler, cfg.RebalanceInterval())

	// Prometheus metrics endpoint
	if cfg.Controller.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{
				Addr:              cfg.Controller.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			log.Printf("Serving metrics on %s", cfg.Controller.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- ctrl.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Printf("Controller error: %v", err)
		}
	}

	log.Println("Placement controller stopped")
}
