package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nainya/recordindex/internal/config"
	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/repository"
	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/storage"
	"github.com/nainya/recordindex/pkg/virtualfield"
)

type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "recordindex",
		Short:         "Record scans over secondary indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database file path (overrides db_path)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, or error (overrides log.level)")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable logs")

	cmd.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newFieldsCmd(opts),
		newSpecCmd(),
		newIndexCmd(opts),
	)
	return cmd
}

// load reads the config file and applies flag overrides
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = o.dbPath
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = o.pretty
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is an opened store with the components built over it
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	kv       *storage.KV
	gen      *ids.Generator
	types    *schema.TypeStore
	repo     *repository.Repository
}

func openApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	compression, err := repository.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	kv := &storage.KV{
		Path:            cfg.DBPath,
		BlockCachePages: cfg.Scan.BlockCachePages,
		Log:             log,
		Metrics:         m,
	}
	if err := kv.Open(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	gen := ids.NewGenerator()
	types := schema.NewTypeStore(kv, gen, log.SchemaLogger())
	provider := virtualfield.NewProvider(types, gen)
	provider.Log = log
	provider.Metrics = m

	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  m,
		kv:       kv,
		gen:      gen,
		types:    types,
		repo: repository.New(kv, types, provider, gen, repository.Options{
			Compression: compression,
			Log:         log,
			Metrics:     m,
		}),
	}, nil
}

func (a *app) Close() error {
	return a.kv.Close()
}

// withApp loads the config, opens the store, and runs fn
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(*app) error) error {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}
	lc := cfg.LoggerConfig()
	lc.Output = cmd.ErrOrStderr()
	logger.InitGlobalLogger(lc)
	log := logger.GetGlobalLogger()

	a, err := openApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close store").Err(err).Send()
		}
	}()
	return fn(a)
}
