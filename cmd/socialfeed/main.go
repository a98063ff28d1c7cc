// socialfeed serves the social feed web UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"socialfeed/backends"
	"socialfeed/config"
	"socialfeed/feed"
	"socialfeed/healthz"
	"socialfeed/httpmetrics"
	"socialfeed/media"
	"socialfeed/notify"
	"socialfeed/webui"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/profiler"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/storage"
	"contrib.go.opencensus.io/exporter/stackdriver"
	cloudmetrics "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	cloudtrace "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/golang/glog"
	"github.com/sendgrid/sendgrid-go"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	secretmanagerpb "google.golang.org/genproto/googleapis/cloud/secretmanager/v1"
)

var (
	configFile  = flag.String("config", "", "Optional YAML file of flag values.  Flags on the command line take precedence.")
	debugListen = flag.String("debug-listen", "127.0.0.1:8001", "Server address:port for debug endpoint.")
	uiListen    = flag.String("ui-listen", "127.0.0.1:8000", "Server address:port for ui endpoint.")

	backend     = flag.String("backend", backends.Firestore, "Data store: firestore, postgres or memory.")
	dataProject = flag.String("data-project", "", "GCP project that contains the application state.")
	postgresDSN = flag.String("postgres-dsn", "", "Postgres connection string, for --backend=postgres.")

	sendgridKeySecret = flag.String("sendgrid-key-secret", "", "GCP Secret Manager secret name that contains the Sendgrid API key.  If empty, notifications are only logged.")
	mailFromName      = flag.String("mail-from-name", "Social Feed", "Sender name on notification emails.")
	mailFromAddress   = flag.String("mail-from-address", "", "Sender address on notification emails.")
	siteURL           = flag.String("site-url", "http://127.0.0.1:8000", "Externally visible URL of the web UI, used in emails.")

	mediaBucket    = flag.String("media-bucket", "", "GCS bucket for uploaded post images.  If empty, posts can only link images by URL.")
	googleClientID = flag.String("google-client-id", "", "OAuth client ID for Sign in with Google.  If empty, the button is hidden.")

	sessionIdleTimeout = flag.Duration("session-idle-timeout", 30*time.Minute, "How long a session without requests or open event streams is kept.")
	janitorPeriod      = flag.Duration("janitor-period", time.Minute, "Time between idle session sweeps.")
	mutationRate       = flag.Float64("mutation-rate", 2, "Sustained mutations per second allowed per session.")
	mutationBurst      = flag.Int("mutation-burst", 10, "Mutation burst allowed per session.")

	monitoring           = flag.Bool("monitoring", false, "Enable monitoring?")
	monitoringProject    = flag.String("monitoring-project", "", "Override project used for monitoring integration.  If not specified, the project associated with Application Default Credentials is used.")
	monitoringTraceRatio = flag.Float64("monitoring-trace-ratio", 0.0001, "What ratio of traces should be exported?")
	enableProfiling      = flag.Bool("enable-profiling", false, "Enable Cloud Profiler?")
)

func main() {
	flag.Parse()

	glog.CopyStandardLogTo("INFO")

	if *configFile != "" {
		if err := config.Load(flag.CommandLine, *configFile); err != nil {
			glog.Exitf("Error: %v", err)
		}
	}

	glog.Infof("flags:")
	flag.VisitAll(func(f *flag.Flag) {
		glog.Infof("%s: %q", f.Name, f.Value.String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := do(ctx); err != nil {
		glog.Exitf("Error: %v", err)
	}
}

func do(ctx context.Context) error {
	if *enableProfiling {
		if err := startProfiler(); err != nil {
			return fmt.Errorf("while starting profiler: %w", err)
		}
	}

	if *monitoring {
		stop, err := installMonitoring(ctx)
		if err != nil {
			return fmt.Errorf("while installing monitoring: %w", err)
		}
		defer stop()
	}

	be, err := backends.Open(ctx, backends.Config{
		Kind:        *backend,
		Project:     *dataProject,
		PostgresDSN: *postgresDSN,
	})
	if err != nil {
		return fmt.Errorf("while opening %s backend: %w", *backend, err)
	}
	defer be.Close()

	notifier, mailer, err := newNotifier(ctx)
	if err != nil {
		return fmt.Errorf("while creating notifier: %w", err)
	}

	authOpts := []feed.AuthOpt{
		feed.WithResetMailer(mailer, *siteURL+"/reset-password"),
	}
	if *googleClientID != "" {
		authOpts = append(authOpts, feed.WithGoogleSignIn(*googleClientID))
	}
	auth := feed.NewAuth(be.Accounts, be.Store, authOpts...)

	sessions := webui.NewSessions(func() *feed.State {
		return feed.New(be.Store, feed.WithNotifier(notifier), feed.WithProfileUpdater(auth))
	},
		webui.WithIdleTimeout(*sessionIdleTimeout),
		webui.WithMutationRate(*mutationRate, *mutationBurst),
	)

	uiOpts := []webui.Opt{
		webui.WithGoogleClientID(*googleClientID),
	}
	if *mediaBucket != "" {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("while creating GCS client: %w", err)
		}
		defer gcs.Close()
		uiOpts = append(uiOpts, webui.WithUploader(media.NewUploader(gcs, *mediaBucket)))
	}

	debugServeMux := http.NewServeMux()
	debugServeMux.Handle("/healthz", healthz.New())
	debugServeMux.Handle("/readyz", healthz.New(be.Ready))
	debugServeMux.HandleFunc("/debug/pprof/", pprof.Index)
	debugServeMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debugServeMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debugServeMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debugServeMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	debugServer := &http.Server{
		Addr:    *debugListen,
		Handler: debugServeMux,

		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ui := webui.New(auth, sessions, uiOpts...)
	uiServeMux := http.NewServeMux()
	ui.Register(uiServeMux)
	metrics := httpmetrics.New(uiServeMux)
	if err := metrics.RegisterMetrics(); err != nil {
		return fmt.Errorf("while registering HTTP metrics: %w", err)
	}
	uiServer := &http.Server{
		Addr:    *uiListen,
		Handler: metrics,

		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug server died: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := uiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("UI server died: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sessions.Run(ctx, *janitorPeriod); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session janitor died: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		glog.Infof("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		uiErr := uiServer.Shutdown(shutdownCtx)
		debugErr := debugServer.Shutdown(shutdownCtx)
		return errors.Join(uiErr, debugErr)
	})

	err = g.Wait()
	glog.Flush()
	return err
}

func startProfiler() error {
	sa, err := metadata.Email("")
	if err != nil {
		glog.Warningf("Could not fetch service account: %v", err)
	} else {
		glog.Infof("serviceaccount: %s", sa)
	}

	return profiler.Start(profiler.Config{
		Service:        "socialfeed",
		ServiceVersion: "0.0.1",
		ProjectID:      *monitoringProject,
	})
}

// installMonitoring exports OpenTelemetry traces and metrics and OpenCensus
// request metrics to Cloud Monitoring.  Call the returned function to flush
// and stop the exporters.
func installMonitoring(ctx context.Context) (func(), error) {
	metricsOpts := []cloudmetrics.Option{}
	traceOpts := []cloudtrace.Option{}
	if *monitoringProject != "" {
		metricsOpts = append(metricsOpts, cloudmetrics.WithProjectID(*monitoringProject))
		traceOpts = append(traceOpts, cloudtrace.WithProjectID(*monitoringProject))
	}

	_, traceShutdown, err := cloudtrace.InstallNewPipeline(traceOpts, sdktrace.WithSampler(sdktrace.TraceIDRatioBased(*monitoringTraceRatio)))
	if err != nil {
		return nil, fmt.Errorf("while installing Cloud Trace OpenTelemetry trace pipeline: %w", err)
	}

	pusher, err := cloudmetrics.InstallNewPipeline(metricsOpts)
	if err != nil {
		traceShutdown()
		return nil, fmt.Errorf("while installing Cloud Metrics OpenTelemetry meter pipeline: %w", err)
	}

	exporter, err := stackdriver.NewExporter(stackdriver.Options{
		ProjectID:         *monitoringProject,
		MetricPrefix:      "socialfeed",
		ReportingInterval: 60 * time.Second,
	})
	if err != nil {
		pusher.Stop(ctx)
		traceShutdown()
		return nil, fmt.Errorf("while creating Stackdriver exporter: %w", err)
	}
	if err := exporter.StartMetricsExporter(); err != nil {
		pusher.Stop(ctx)
		traceShutdown()
		return nil, fmt.Errorf("while starting Stackdriver metrics exporter: %w", err)
	}

	return func() {
		exporter.Flush()
		exporter.StopMetricsExporter()
		if err := pusher.Stop(context.Background()); err != nil {
			glog.Errorf("Error while stopping metrics pusher: %v", err)
		}
		traceShutdown()
	}, nil
}

// newNotifier returns the notifier and password reset mailer.  With no
// SendGrid key configured, both only log.
func newNotifier(ctx context.Context) (feed.Notifier, feed.ResetMailer, error) {
	if *sendgridKeySecret == "" {
		glog.Warningf("No --sendgrid-key-secret; notifications and password resets will only be logged")
		return notify.Log{}, notify.Log{}, nil
	}
	if *mailFromAddress == "" {
		return nil, nil, errors.New("--mail-from-address is required with --sendgrid-key-secret")
	}

	sg, err := newSendgridClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("while creating Sendgrid client: %w", err)
	}
	n := notify.NewSendGrid(sg, *mailFromName, *mailFromAddress, *siteURL)
	return n, n, nil
}

func newSendgridClient(ctx context.Context) (*sendgrid.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	project := *dataProject
	if project == "" {
		var err error
		project, err = metadata.ProjectID()
		if err != nil {
			return nil, fmt.Errorf("while finding project for secret: %w", err)
		}
	}

	secretClient, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("while creating Secret Manager client: %w", err)
	}
	defer secretClient.Close()

	resp, err := secretClient.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, *sendgridKeySecret),
	})
	if err != nil {
		return nil, fmt.Errorf("while pulling secret: %w", err)
	}

	return sendgrid.NewSendClient(string(resp.GetPayload().GetData())), nil
}
