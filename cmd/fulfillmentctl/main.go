package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/config"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/repository"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/service"
	"github.com/spf13/cobra"
)

var Version = "dev"

var (
	databaseURI string
	dataDir     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fulfillmentctl",
		Short:         "Operator tools for the fulfillment store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&databaseURI, "database", "d", "", "Database URI (overrides DATABASE_URI)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Data directory for the file store (overrides DATA_DIR)")

	rootCmd.AddCommand(purchasesCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(packageCmd())

	return rootCmd
}

// services bundles what the commands need from the store
type services struct {
	repo      repository.Repository
	purchases *service.PurchaseService
	customers *service.CustomerService
}

func (s *services) Close() error {
	return s.repo.Close()
}

func openServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}
	if databaseURI != "" {
		cfg.DatabaseURI = databaseURI
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	repo, err := repository.Open(ctx, cfg.DatabaseURI, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	logger := log.New(os.Stderr, "fulfillmentctl: ", log.LstdFlags)
	notifier := service.NewLogNotifier(logger)
	cat := catalog.Default()
	projector := service.NewProjector(repo, cat, logger)

	return &services{
		repo:      repo,
		purchases: service.NewPurchaseService(repo, cat, projector, notifier, logger),
		customers: service.NewCustomerService(repo, cat, notifier, logger),
	}, nil
}
