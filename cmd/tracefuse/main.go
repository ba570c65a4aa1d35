// Command tracefuse fuses GPS, IPDR, and CDR logs from a device
// investigation into one annotated timeline and scores it for anomalies.
//
// Batch mode reads CSV exports and writes a JSON report:
//
//	tracefuse -config tracefuse.yaml -gps gps.csv -ipdr ipdr.csv -cdr cdr.csv -out report.json
//
// Server mode exposes the same pipeline over HTTP:
//
//	tracefuse -config tracefuse.yaml -serve
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tracefuse/internal/alerts"
	"tracefuse/internal/api"
	"tracefuse/internal/config"
	"tracefuse/internal/ingest"
	"tracefuse/internal/logging"
	"tracefuse/internal/normalize"
	"tracefuse/internal/pipeline"
	"tracefuse/internal/publish"
	"tracefuse/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json); defaults apply when omitted")
	gpsPath := flag.String("gps", "", "GPS fixes CSV")
	ipdrPath := flag.String("ipdr", "", "IPDR session records CSV (optional)")
	cdrPath := flag.String("cdr", "", "CDR call records CSV (optional)")
	outPath := flag.String("out", "", "report output path (default: stdout)")
	serve := flag.Bool("serve", false, "run the HTTP API instead of a batch analysis")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("tracefuse %s\n", version)
		return
	}

	mgr, err := loadManager(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}
	publisher := publish.NewKafka(cfg.Publish, logger)
	if publisher != nil {
		defer publisher.Close()
	}

	if *serve {
		alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
		server := api.Start(ctx, mgr, alertsStore, store, publisher, logger, version)
		if server == nil {
			logger.Error("api not enabled in config; nothing to serve")
			os.Exit(1)
		}
		<-ctx.Done()
		return
	}

	if *gpsPath == "" && *ipdrPath == "" && *cdrPath == "" {
		fmt.Fprintln(os.Stderr, "at least one of -gps, -ipdr, -cdr is required")
		flag.Usage()
		os.Exit(2)
	}

	in := pipeline.Inputs{}
	if in.GPS, err = readOptional(*gpsPath); err != nil {
		logger.Error("read gps", "err", err, "path", *gpsPath)
		os.Exit(1)
	}
	if in.IPDR, err = readOptional(*ipdrPath); err != nil {
		logger.Error("read ipdr", "err", err, "path", *ipdrPath)
		os.Exit(1)
	}
	if in.CDR, err = readOptional(*cdrPath); err != nil {
		logger.Error("read cdr", "err", err, "path", *cdrPath)
		os.Exit(1)
	}

	rep, err := pipeline.New(cfg, logger, store, publisher).Run(ctx, in)
	if err != nil {
		logger.Error("analysis failed", "err", err)
		os.Exit(1)
	}

	if err := writeReport(*outPath, rep); err != nil {
		logger.Error("write report", "err", err, "path", *outPath)
		os.Exit(1)
	}
}

func loadManager(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(path))
}

func readOptional(path string) ([]normalize.RawRecord, error) {
	if path == "" {
		return nil, nil
	}
	return ingest.ReadCSVFile(path)
}

func writeReport(path string, rep any) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
