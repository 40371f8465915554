package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/fleetworks/director/agent"
	"github.com/fleetworks/director/artifact"
	"github.com/fleetworks/director/cpi"
	cpiaws "github.com/fleetworks/director/cpi/aws"
	cpiopenstack "github.com/fleetworks/director/cpi/openstack"
	cpivsphere "github.com/fleetworks/director/cpi/vsphere"
	transport "github.com/fleetworks/director/http"
	"github.com/fleetworks/director/reconcile"
	"github.com/fleetworks/director/registry"
	registrysql "github.com/fleetworks/director/registry/sql"
	"github.com/fleetworks/director/release"
	"github.com/fleetworks/director/resurrect"
	"github.com/fleetworks/director/snapshot"
	"github.com/fleetworks/director/task"
)

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  directord converges deployments of VMs, disks and jobs onto cloud infrastructure.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	var (
		listenAddr     = fs.StringP("listen", "l", ":25555", "Listen address for director API clients")
		databasePath   = fs.String("database", "", "Path to the SQLite database; empty runs entirely in memory")
		blobstoreDir   = fs.String("blobstore-dir", "", "Directory for the artifact blobstore; empty runs in memory")
		workers        = fs.Int("workers", 3, "Number of concurrent task workers")
		scanInterval   = fs.Duration("scan-interval", 10*time.Minute, "Interval between automatic health scans; 0 disables them")
		cpiCallTimeout = fs.Duration("cpi-call-timeout", 10*time.Minute, "Timeout applied to each infrastructure call")
		agentEndpoint  = fs.String("agent-endpoint", "", "Agent endpoint template with one %s for the agent id; empty uses in-process fake agents")

		providerKind = fs.String("provider", "dummy", `Infrastructure provider: "vsphere", "aws", "openstack" or "dummy"`)

		vsphereURL        = fs.String("vsphere-url", "", "vCenter URL")
		vsphereDatacenter = fs.String("vsphere-datacenter", "", "vCenter datacenter name")
		vsphereUsername   = fs.String("vsphere-username", "", "vCenter username")
		vspherePassword   = fs.String("vsphere-password", "", "vCenter password")

		awsRegion       = fs.String("aws-region", "us-east-1", "AWS region")
		awsInstanceType = fs.String("aws-instance-type", "", "Default EC2 instance type for pools that don't specify one")
		awsSubnetID     = fs.String("aws-subnet-id", "", "Subnet for created instances")

		openstackAuthURL  = fs.String("openstack-auth-url", "", "Keystone v3 auth URL")
		openstackCompute  = fs.String("openstack-compute-url", "", "Nova endpoint")
		openstackVolume   = fs.String("openstack-volume-url", "", "Cinder endpoint")
		openstackUsername = fs.String("openstack-username", "", "OpenStack username")
		openstackPassword = fs.String("openstack-password", "", "OpenStack password")
		openstackProject  = fs.String("openstack-project", "", "OpenStack project name")

		providerRPS   = fs.Int("provider-rps", 50, "Maximum requests per second to the provider API")
		providerBurst = fs.Int("provider-burst", 10, "Maximum burst to the provider API")
	)
	fs.Parse(os.Args)

	// Logger domain.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	// Registry component.
	var store registry.Store
	{
		logger := log.With(logger, "component", "registry")
		if *databasePath != "" {
			db, err := registrysql.Open("sqlite", "file:"+*databasePath+"?_pragma=busy_timeout=5000")
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			defer db.Close()
			store = db
			logger.Log("database", *databasePath)
		} else {
			store = registry.NewInMem()
			logger.Log("database", "in-memory")
		}
	}

	// Blobstore component.
	var artifacts artifact.Store
	{
		logger := log.With(logger, "component", "blobstore")
		if *blobstoreDir != "" {
			artifacts = &artifact.Dir{Root: *blobstoreDir}
			logger.Log("dir", *blobstoreDir)
		} else {
			artifacts = artifact.NewInMem()
			logger.Log("dir", "in-memory")
		}
	}

	// Provider component.
	var provider cpi.CPI
	{
		logger := log.With(logger, "component", "provider")
		switch cpi.Kind(*providerKind) {
		case cpi.KindVSphere:
			provider = cpivsphere.New(cpivsphere.Config{
				URL:        *vsphereURL,
				Datacenter: *vsphereDatacenter,
				Username:   *vsphereUsername,
				Password:   *vspherePassword,
				RPS:        *providerRPS,
				Burst:      *providerBurst,
			}, logger)
		case cpi.KindAWS:
			p, err := cpiaws.New(cpiaws.Config{
				Region:              *awsRegion,
				DefaultInstanceType: *awsInstanceType,
				SubnetID:            *awsSubnetID,
			}, logger)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			provider = p
		case cpi.KindOpenStack:
			provider = cpiopenstack.New(cpiopenstack.Config{
				AuthURL:    *openstackAuthURL,
				ComputeURL: *openstackCompute,
				VolumeURL:  *openstackVolume,
				Username:   *openstackUsername,
				Password:   *openstackPassword,
				Project:    *openstackProject,
				RPS:        *providerRPS,
				Burst:      *providerBurst,
			}, logger)
		default:
			provider = cpi.NewFake()
		}
		logger.Log("kind", *providerKind)
	}

	// Agent client component.
	var agents agent.Client
	{
		logger := log.With(logger, "component", "agent")
		if *agentEndpoint != "" {
			agents = agent.NewHTTPClient(*agentEndpoint, logger)
			logger.Log("endpoint", *agentEndpoint)
		} else {
			agents = agent.NewFake()
			logger.Log("endpoint", "in-process fake")
		}
	}

	// Reconciler component.
	var deployer *reconcile.Deployer
	dns := reconcile.NewInMemDNS()
	{
		logger := log.With(logger, "component", "reconcile")
		executor := &reconcile.Executor{
			CPI:         provider,
			Agents:      agents,
			Store:       store,
			DNS:         dns,
			CallTimeout: *cpiCallTimeout,
			Logger:      logger,
		}
		deployer = reconcile.NewDeployer(store, executor, logger)
	}

	// Snapshot component.
	snapshots := &snapshot.Manager{
		Store:       store,
		CPI:         provider,
		Logger:      log.With(logger, "component", "snapshot"),
		CallTimeout: *cpiCallTimeout,
	}

	// Release ingestion component.
	ingestor := &release.Ingestor{
		Store:     store,
		Artifacts: artifacts,
		Logger:    log.With(logger, "component", "release"),
	}

	// Task manager and handlers.
	tasks := task.NewManager(store, *workers, log.With(logger, "component", "task"))

	// Resurrection components.
	scanner := &resurrect.Scanner{
		Store:       store,
		CPI:         provider,
		Agents:      agents,
		Logger:      log.With(logger, "component", "scan"),
		CallTimeout: *cpiCallTimeout,
	}
	resolver := &resurrect.Resolver{
		Store:  store,
		Submit: tasks,
		Logger: log.With(logger, "component", "resolve"),
	}
	fixer := &resurrect.Fixer{
		Store:    store,
		Deployer: deployer,
		CPI:      provider,
		Logger:   log.With(logger, "component", "fix"),
	}

	registerHandlers(tasks, handlerDeps{
		store:     store,
		artifacts: artifacts,
		deployer:  deployer,
		snapshots: snapshots,
		ingestor:  ingestor,
		scanner:   scanner,
		resolver:  resolver,
		fixer:     fixer,
	})

	// Mechanical stuff.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tasks.Run(stop)
	}()

	if *scanInterval > 0 {
		monitor := &resurrect.Monitor{
			Store:        store,
			Submit:       tasks,
			ScanInterval: *scanInterval,
		}
		wg.Add(1)
		go monitor.Loop(stop, &wg, log.With(logger, "component", "monitor"))
	}

	// Transport domain.
	go func() {
		logger := log.With(logger, "transport", "HTTP")
		logger.Log("addr", *listenAddr)
		server := &transport.Server{
			Tasks:    tasks,
			Store:    store,
			Resolver: resolver,
			Logger:   logger,
		}
		handler := transport.NewHandler(server, transport.NewRouter(), logger)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/", handler)
		errc <- http.ListenAndServe(*listenAddr, mux)
	}()

	// Go!
	logger.Log("exit", <-errc)
	close(stop)
	wg.Wait()
}
