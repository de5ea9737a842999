package main

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakridgehealth/frontdesk/internal/admin"
	"github.com/oakridgehealth/frontdesk/internal/api/router"
	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/calls"
	appconfig "github.com/oakridgehealth/frontdesk/internal/config"
	"github.com/oakridgehealth/frontdesk/internal/feedback"
	"github.com/oakridgehealth/frontdesk/internal/inbound"
	"github.com/oakridgehealth/frontdesk/internal/insurance"
	"github.com/oakridgehealth/frontdesk/internal/leader"
	"github.com/oakridgehealth/frontdesk/internal/observability/metrics"
	"github.com/oakridgehealth/frontdesk/internal/patients"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/refill"
	"github.com/oakridgehealth/frontdesk/internal/reminders"
	"github.com/oakridgehealth/frontdesk/internal/schedule"
	"github.com/oakridgehealth/frontdesk/internal/sms"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/internal/training"
	"github.com/oakridgehealth/frontdesk/internal/vapi"
	"github.com/oakridgehealth/frontdesk/internal/voicemail"
	"github.com/oakridgehealth/frontdesk/internal/waitlist"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

// leaderKey guards the singleton background loops across replicas.
const leaderKey = "frontdesk:leader"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting frontdesk API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	var openaiClient *openai.Client
	if cfg.OpenAIAPIKey != "" {
		openaiClient = openai.NewClient(cfg.OpenAIAPIKey)
	} else {
		logger.Warn("OPENAI_API_KEY not set; call analysis degrades to heuristic scoring")
	}

	// Stores share one pool.
	practiceStore := practice.NewStore(pool)
	patientStore := patients.NewStore(pool)
	bookingStore := booking.NewStore(pool)
	scheduleStore := schedule.NewStore(pool)
	callStore := calls.NewStore(pool)
	reminderStore := reminders.NewStore(pool)
	waitlistStore := waitlist.NewStore(pool)
	feedbackStore := feedback.NewStore(pool)
	voicemailStore := voicemail.NewStore(pool)
	refillStore := refill.NewStore(pool)
	trainingStore := training.NewStore(pool)

	clock := timeclock.SystemClock{}
	callMetrics := metrics.NewCallMetrics(prometheus.DefaultRegisterer)
	messagingMetrics := metrics.NewMessagingMetrics(prometheus.DefaultRegisterer)

	// Outbound SMS. Per-practice Twilio credentials override the globals.
	smsCache := sms.NewClientCache(logger)
	globalCreds := sms.Credentials{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFromNumber,
	}

	scheduleResolver := schedule.NewResolver(scheduleStore)
	slotGenerator := schedule.NewGenerator(scheduleResolver, bookingStore)

	reminderScheduler := reminders.NewScheduler(
		reminderStore, practiceStore, patientStore, clock,
		func(creds sms.Credentials) reminders.MessageSender { return smsCache.For(creds) },
		globalCreds, logger,
	)
	waitlistEngine := waitlist.NewEngine(
		waitlistStore, practiceStore, clock,
		func(creds sms.Credentials) waitlist.MessageSender { return smsCache.For(creds) },
		globalCreds, logger, messagingMetrics,
	)

	bookingEngine := booking.NewEngine(booking.EngineConfig{
		Store:     bookingStore,
		Practices: practiceStore,
		Patients:  patientStore,
		Resolver:  scheduleResolver,
		Slots:     slotGenerator,
		Clock:     clock,
		Reminders: reminderScheduler,
		Waitlist:  waitlistEngine,
		Logger:    logger,
	})

	eligibility := insurance.NewClient(cfg.EligibilityBaseURL, cfg.EligibilityAPIKey, logger)

	runtime := vapi.NewRuntime(vapi.RuntimeConfig{
		Practices:    practiceStore,
		Patients:     patientStore,
		Calls:        callStore,
		Bookings:     bookingEngine,
		Appointments: bookingStore,
		Resolver:     scheduleResolver,
		Hours:        scheduleStore,
		Waitlist:     waitlistEngine,
		Insurance:    eligibility,
		Voicemails:   voicemailStore,
		Refills:      refillStore,
		Clock:        clock,
		Logger:       logger,
		Metrics:      callMetrics,
	})

	analyzerCfg := feedback.AnalyzerConfig{
		Store:    feedbackStore,
		Calls:    callStore,
		Model:    cfg.OpenAIModel,
		Timeout:  cfg.OpenAIAnalysisTime,
		PatternN: cfg.FeedbackPatternEveryN,
		Logger:   logger,
	}
	if openaiClient != nil {
		analyzerCfg.Client = openaiClient
	}
	analyzer := feedback.NewAnalyzer(analyzerCfg)

	dispatcher := vapi.NewDispatcher(vapi.DispatcherConfig{
		WebhookSecret: cfg.VapiWebhookSecret,
		Production:    cfg.IsProduction(),
		Runtime:       runtime,
		Calls:         callStore,
		Tenants:       practiceStore,
		Feedback:      analyzer,
		Logger:        logger,
		Metrics:       callMetrics,
	})

	inboundRouter := inbound.NewRouter(
		reminderStore, bookingEngine, bookingStore, waitlistEngine, logger, messagingMetrics)
	inboundHandler := inbound.NewHandler(cfg.TwilioWebhookSecret, inboundRouter, logger)

	// Training audio needs S3; without a bucket the training routes stay dark.
	var pipeline *training.Pipeline
	if cfg.TrainingAudioBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		pipelineCfg := training.PipelineConfig{
			Store:     trainingStore,
			Audio:     training.NewAudioStore(s3.NewFromConfig(awsCfg), cfg.TrainingAudioBucket),
			Publisher: feedbackStore,
			Model:     cfg.OpenAIModel,
			Timeout:   cfg.OpenAIAnalysisTime,
			Logger:    logger,
		}
		if openaiClient != nil {
			pipelineCfg.Client = openaiClient
		}
		pipeline = training.NewPipeline(pipelineCfg)
	} else {
		logger.Warn("TRAINING_AUDIO_BUCKET not set; training endpoints disabled")
	}

	adminCfg := admin.HandlerConfig{
		Appointments: bookingStore,
		Canceller:    bookingEngine,
		Voicemails:   voicemailStore,
		Refills:      refillStore,
		Insights:     feedbackStore,
		Prompts:      feedbackStore,
		Logger:       logger,
	}
	if pipeline != nil {
		adminCfg.Sessions = trainingStore
		adminCfg.Pipeline = pipeline
	}
	staffHandler := admin.NewHandler(adminCfg)

	r := router.New(&router.Config{
		Logger:          logger,
		VapiWebhook:     dispatcher,
		SMSWebhook:      inboundHandler,
		MetricsHandler:  promhttp.Handler(),
		StaffHandler:    staffHandler,
		StaffAuthSecret: cfg.AdminJWTSecret,
	})

	// Singleton loops run only on the lease holder; work restarts when
	// leadership is reacquired.
	reminderTicker := reminders.NewTicker(
		reminderStore, bookingStore, practiceStore, reminderScheduler, clock,
		func(creds sms.Credentials) reminders.MessageSender { return smsCache.For(creds) },
		globalCreds, cfg.ReminderTickInterval, cfg.ReminderBatchSize, logger, messagingMetrics,
	)
	lease := leader.NewLease(leader.LeaseConfig{
		Client: redisClient,
		Key:    leaderKey,
		Logger: logger,
	})
	go lease.Run(ctx, func(ctx context.Context) {
		go reminderTicker.Run(ctx)
		waitlistEngine.Run(ctx, cfg.WaitlistExpireInterval)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout: 15 * time.Second,
		// Tool dispatch may run up to 15s; leave headroom to write the
		// response.
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
