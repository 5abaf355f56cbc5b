package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/helix-jobs/internal/config"
	"github.com/cuongbtq/helix-jobs/internal/jobfile"
	"github.com/cuongbtq/helix-jobs/shared/helixapi"
	"github.com/cuongbtq/helix-jobs/shared/jobsender"
	"github.com/cuongbtq/helix-jobs/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("JOB_SENDER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/job-sender/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	jobPath := flag.String("job", "", "Path to the YAML job description")
	wait := flag.Bool("wait", false, "Wait until the job is dispatched or failed")
	cancelOnInterrupt := flag.Bool("cancel-on-interrupt", false, "Cancel the job when interrupted while waiting")
	flag.Parse()

	if *jobPath == "" {
		return errors.New("-job is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateSenderConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.TimeOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	jobFile, err := jobfile.Load(*jobPath)
	if err != nil {
		return err
	}
	if jobFile.StorageConnectionString == "" {
		jobFile.StorageConnectionString = cfg.Sender.StorageConnectionString
	}

	client, err := helixapi.NewClient(helixapi.Config{
		BaseURL:     cfg.Sender.APIBaseURL,
		AccessToken: cfg.Sender.AccessToken,
		Timeout:     cfg.Sender.Timeout,
		Retry:       cfg.Sender.Retry.Policy(),
	})
	if err != nil {
		return err
	}

	job := jobFile.JobDefinition(client,
		jobsender.WithUploadConcurrency(cfg.Sender.UploadConcurrency),
		jobsender.WithLogger(appLogger.Logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Sending job",
		slog.String("target_queue", job.TargetQueue()),
		slog.String("container", job.ContainerName()),
		slog.Int("work_items", len(job.WorkItems())),
	)

	sent, err := job.Send(ctx, appLogger.Sink(slog.LevelInfo))
	if err != nil {
		return fmt.Errorf("failed to send job: %w", err)
	}

	appLogger.Info("Job sent",
		slog.String("job_name", sent.Name()),
		slog.String("cancellation_token", sent.CancellationToken()),
	)

	if !*wait {
		return nil
	}

	details, err := sent.Wait(ctx, cfg.Sender.WaitPollInterval)
	if err != nil {
		if ctx.Err() != nil && *cancelOnInterrupt {
			cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if cancelErr := sent.Cancel(cancelCtx); cancelErr != nil {
				return errors.Join(err, cancelErr)
			}
			appLogger.Warn("Job canceled", slog.String("job_name", sent.Name()))
		}
		return err
	}

	appLogger.Info("Job finished",
		slog.String("job_name", details.Name),
		slog.String("state", details.State),
		slog.Int("work_items", details.WorkItems.Total),
	)

	if details.State != helixapi.JobStateDispatched {
		return fmt.Errorf("job %s ended in state %s: %s", details.Name, details.State, details.Error)
	}
	return nil
}
