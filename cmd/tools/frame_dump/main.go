package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soltixdb/sframe/internal/config"
	"github.com/soltixdb/sframe/internal/fileio"
	"github.com/soltixdb/sframe/internal/fileio/minio"
	"github.com/soltixdb/sframe/internal/fileio/s3"
	"github.com/soltixdb/sframe/internal/logging"
	"github.com/soltixdb/sframe/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	input := flag.String("input", "", "Table index to read (path or s3://, minio://, mem:// URL)")
	format := flag.String("format", "csv", "Output format (csv, json, info)")
	output := flag.String("output", "", "Output file (default stdout)")
	columns := flag.String("columns", "", "Comma separated columns to dump (default all)")
	start := flag.Int64("start", 0, "First row")
	end := flag.Int64("end", -1, "End row, exclusive (default all)")
	saveTo := flag.String("save", "", "Also save the table to this path")
	keepRefs := flag.Bool("keep-references", false, "Save by referencing the source segments when possible")

	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input parameter is required")
		os.Exit(2)
	}

	cfg := config.LoadOrDefault(*configPath)
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := registerRemoteStores(ctx, cfg.Remote); err != nil {
		logger.Fatal("Failed to register remote stores", "error", err)
	}

	tbl, err := storage.Open(ctx, *input)
	if err != nil {
		logger.Fatal("Failed to open table", "input", *input, "error", err)
	}
	if *columns != "" {
		if tbl, err = tbl.Select(strings.Split(*columns, ",")...); err != nil {
			logger.Fatal("Failed to select columns", "columns", *columns, "error", err)
		}
	}

	if *saveTo != "" {
		opts, err := saveOptions(cfg, *keepRefs)
		if err != nil {
			logger.Fatal("Invalid storage configuration", "error", err)
		}
		saved, err := storage.Save(ctx, tbl, *saveTo, opts)
		if err != nil {
			logger.Fatal("Failed to save table", "path", *saveTo, "error", err)
		}
		logger.Info("Table saved", "path", saved.Path(), "rows", saved.NumRows())
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatal("Failed to create output file", "output", *output, "error", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	rng := rowRange{start: *start, end: *end}
	if err := dump(ctx, out, tbl, *format, rng); err != nil {
		logger.Fatal("Dump failed", "input", *input, "format", *format, "error", err)
	}
}

// registerRemoteStores makes the object-store protocols enabled in the
// configuration available to fileio.
func registerRemoteStores(ctx context.Context, cfg config.RemoteConfig) error {
	if cfg.S3.Enabled {
		st, err := s3.New(ctx, s3.Options{
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		fileio.Register(st)
	}
	if cfg.MinIO.Enabled {
		st, err := minio.New(minio.Options{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return err
		}
		fileio.Register(st)
	}
	return nil
}

func saveOptions(cfg *config.Config, keepRefs bool) (storage.SaveOptions, error) {
	write, err := storage.WriteOptionsFromConfig(cfg.Storage)
	if err != nil {
		return storage.SaveOptions{}, err
	}
	opts := storage.DefaultSaveOptions()
	opts.Write = write
	opts.KeepReferences = keepRefs
	return opts, nil
}
