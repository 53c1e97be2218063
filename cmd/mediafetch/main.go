package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediafetch/internal/api"
	"mediafetch/internal/config"
	"mediafetch/internal/core/domain"
	"mediafetch/internal/logger"
	"mediafetch/internal/service"
)

var (
	log        = logger.Get("Main")
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "mediafetch",
	Short:         "Retrieve media files from public URLs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		logger.SetMinLoggingLevel(logger.ParseLevel(cfg.LogLevel))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP job service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		log.Emit(logger.INFO, "Strategy chain: %s\n", strings.Join(a.chain.Names(), " -> "))

		if cfg.Jobs.FileRetention > 0 {
			interval := min(cfg.Jobs.FileRetention/4, time.Hour)
			go service.RunJanitor(ctx, a.storage, cfg.Jobs.FileRetention, max(interval, time.Minute))
		}

		gateway := api.NewRestGateway(&api.RestConfig{
			HostAddr:    cfg.ListenAddr(),
			AccessToken: cfg.Security.AccessToken,
		}, a.dispatcher)
		if err := gateway.Run(ctx); err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		log.Emit(logger.STOP, "Waiting for running jobs to stop\n")
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch url",
	Short: "Retrieve a single URL and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		job, err := a.dispatcher.RunSync(ctx, args[0])
		if err != nil {
			return err
		}
		printSummary(job, a.storage.GetJobPath(job.ID))
		if job.Status != domain.StatusCompleted {
			return fmt.Errorf("job %s failed: %s", job.ID, job.Message)
		}
		return nil
	},
}

func printSummary(job *domain.Job, dir string) {
	fmt.Println("\n=== Job Summary ===")
	fmt.Printf("Job ID:       %s\n", job.ID)
	fmt.Printf("Platform:     %s\n", job.Platform)
	fmt.Printf("Status:       %s\n", job.Status)
	if job.Status == domain.StatusCompleted {
		fmt.Printf("Strategy:     %s\n", job.Strategy)
		fmt.Printf("Title:        %s\n", job.Title)
		fmt.Printf("File:         %s/%s (%d bytes)\n", dir, job.FileName, job.FileSize)
	} else {
		fmt.Printf("Error:        %s\n", job.Message)
	}
	fmt.Printf("Completed At: %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05 UTC"))
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to the environment)")
	rootCmd.AddCommand(serveCmd, fetchCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%v\n", err)
		os.Exit(1)
	}
}
