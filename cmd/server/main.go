package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"voice-checkout/handler"
	"voice-checkout/internal/config"
	"voice-checkout/internal/integrations/paramstore"
	"voice-checkout/internal/integrations/stripe"
	"voice-checkout/internal/repository"
	"voice-checkout/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServer(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	// ---- AWS SDK config, only when a component needs it ----
	var ssmAPI *awsssm.Client
	var dynamoAPI *awsdynamodb.Client
	if cfg.ParamPrefix != "" || cfg.SessionBackend == config.SessionBackendDynamoDB {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		ssmAPI = awsssm.NewFromConfig(awsCfg)
		dynamoAPI = awsdynamodb.NewFromConfig(awsCfg)
	}

	// ---- Secrets ----
	var params paramstore.Getter = paramstore.Static(cfg.StaticParams())
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(ssmAPI)
		if err != nil {
			log.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		params = paramstore.Prefixed{Getter: ssmClient, Prefix: cfg.ParamPrefix}
	}
	publishableKey, err := params.GetParameter(ctx, config.ParamStripePublishableKey)
	if err != nil {
		log.Error("failed to resolve publishable key", "err", err)
		os.Exit(1)
	}

	// ---- Session store ----
	var sessions usecase.SessionStore = repository.NewMemoryStore()
	if cfg.SessionBackend == config.SessionBackendDynamoDB {
		sessions, err = repository.NewDynamoStore(dynamoAPI, cfg.SessionTable)
		if err != nil {
			log.Error("failed to create session store", "err", err)
			os.Exit(1)
		}
	}

	// ---- Clients ----
	stripeOpts := []stripe.Option{stripe.WithLogger(log)}
	if cfg.StripeBackendURL != "" {
		stripeOpts = append(stripeOpts, stripe.WithBackendURL(cfg.StripeBackendURL))
	}
	stripeClient, err := stripe.NewClient(params, config.ParamStripeSecretKey, stripeOpts...)
	if err != nil {
		log.Error("failed to create Stripe client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	payments, err := usecase.NewPaymentService(stripeClient, sessions,
		usecase.WithLogger(log), usecase.WithCallTimeout(cfg.ProcessorTimeout))
	if err != nil {
		log.Error("failed to create payment service", "err", err)
		os.Exit(1)
	}
	catalog, err := usecase.NewCatalogService(stripeClient, cfg.Shipping, publishableKey, log)
	if err != nil {
		log.Error("failed to create catalog service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(payments, catalog, log)
	if err != nil {
		log.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(h.Handle)
		return
	}
	if err := serve(log, ":"+cfg.Port, h); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func serve(log *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
