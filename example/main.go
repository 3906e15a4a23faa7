package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/streamhub-io/pubsub-source/broker"
	googlebroker "github.com/streamhub-io/pubsub-source/broker/google"
	"github.com/streamhub-io/pubsub-source/connector"
	"github.com/streamhub-io/pubsub-source/credentials"
	"github.com/streamhub-io/pubsub-source/metrics"
	"github.com/streamhub-io/pubsub-source/ops"
	"github.com/streamhub-io/pubsub-source/util"
)

func main() {
	configPath := flag.String("config", "connector.yaml", "path to the connector config file")
	otlpEndpoint := flag.String("otlp", "", "OTLP metrics endpoint (disabled when empty)")
	flag.Parse()

	lg, cleanup := util.NewLogger("pubsub-source")
	defer cleanup()

	cfg, err := connector.LoadConfig(*configPath)
	if err != nil {
		lg.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []connector.Option{connector.WithLogger(connector.NewZapLogger(lg))}
	if *otlpEndpoint != "" {
		exporter, shutdown, err := metrics.NewExporter(ctx,
			metrics.WithServiceName("pubsub-source"),
			metrics.WithOTLPGRPCEndpoint(*otlpEndpoint),
		)
		if err != nil {
			lg.Fatal("metrics exporter", zap.Error(err))
		}
		defer shutdown()
		opts = append(opts, connector.WithHooks(exporter.Hooks()))
	}

	conn := connector.New(cfg, googleFactory, opts...)
	if err := conn.Init(ctx); err != nil {
		lg.Fatal("init connector", zap.Error(err))
	}

	sink := func(_ context.Context, d connector.Delivery) error {
		fmt.Fprintf(os.Stdout, "%s\n", d.Data)
		return nil
	}
	if err := conn.Connect(ctx, sink); err != nil {
		lg.Fatal("connect", zap.Error(err))
	}

	srv := ops.NewServer(lg, conn, ops.WithPort(cfg.Ops.Port))
	srv.Start()

	<-ctx.Done()
	lg.Info("shutting down ...")
	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("ops shutdown", zap.Error(err))
	}
	if err := conn.Disconnect(shutdownCtx); err != nil {
		lg.Warn("disconnect", zap.Error(err))
	}
	_ = conn.Destroy(shutdownCtx)
}

func googleFactory(ctx context.Context, cfg connector.Config, creds *credentials.Credentials) (broker.Broker, error) {
	return googlebroker.New(ctx, googlebroker.Config{
		ProjectID:       cfg.ProjectID,
		SubscriptionID:  cfg.SubscriptionID,
		CredentialsJSON: creds.JSON(),
		Receive: broker.ReceiveSettings{
			NumGoroutines:          cfg.Receiver.NumGoroutines,
			MaxOutstandingMessages: cfg.Receiver.MaxOutstandingMessages,
			MaxOutstandingBytes:    cfg.Receiver.MaxOutstandingBytes,
			MaxExtension:           cfg.Receiver.MaxExtension,
		},
	})
}
