package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/vriksha-code/verisure/internal/bootstrap"
	"github.com/vriksha-code/verisure/internal/capture"
	"github.com/vriksha-code/verisure/internal/doctype"
	"github.com/vriksha-code/verisure/internal/shared/config"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
	"github.com/vriksha-code/verisure/internal/submissions"
)

const usage = `usage:
  verisure submit [flags] <file>
  verisure submit [flags] --camera-url <url>
  verisure list [--owner id] [--json]
  verisure types`

func main() {
	if len(os.Args) < 2 {
		exitErr(usage)
	}
	cfg := config.Load()
	telemetry.Configure(telemetry.Options{Env: cfg.Env, Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(ctx, cfg, os.Args[2:], os.Stdout)
	case "list":
		err = runList(ctx, cfg, os.Args[2:], os.Stdout)
	case "types":
		err = printTypes(os.Stdout)
	default:
		exitErr(usage)
	}
	if err != nil {
		exitErr(err.Error())
	}
}

// build wires the configured stack but runs verification inline, so the
// command returns with a terminal record.
func build(cfg config.Config) (*bootstrap.App, error) {
	cfg.SQSQueueURL = ""
	if cfg.RecordStore == "memory" {
		cfg.RecordStore = "file"
	}
	app, err := bootstrap.Build(cfg)
	if err != nil {
		return nil, err
	}
	app.Service.Queue = nil
	app.Service.Sync = true
	return app, nil
}

func runSubmit(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	docType := fs.String("type", "", "Document type (value or label, see `verisure types`)")
	task := fs.String("task", "", "Verification task, required for type other")
	name := fs.String("name", "", "Submitter display name")
	owner := fs.String("owner", "cli", "Owner id records are scoped to")
	cameraURL := fs.String("camera-url", "", "Snapshot endpoint to capture a frame from instead of a file")
	asJSON := fs.Bool("json", false, "Print the record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sub := submissions.Submission{
		OwnerID:      *owner,
		SubmittedBy:  *name,
		DocumentType: *docType,
		Task:         *task,
	}
	if strings.TrimSpace(sub.SubmittedBy) == "" {
		sub.SubmittedBy = *owner
	}

	switch {
	case strings.TrimSpace(*cameraURL) != "":
		frame, err := capture.Take(ctx, capture.HTTPSnapshotSource{URL: *cameraURL})
		if err != nil {
			return err
		}
		sub.FileName = frame.FileName()
		sub.MediaType = frame.MediaType
		sub.Size = int64(len(frame.Data))
		sub.Body = bytes.NewReader(frame.Data)
	case fs.NArg() == 1:
		path := fs.Arg(0)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		sub.FileName = filepath.Base(path)
		sub.MediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
		sub.Size = int64(len(data))
		sub.Body = bytes.NewReader(data)
	default:
		return fmt.Errorf("exactly one file or --camera-url is required\n%s", usage)
	}

	app, err := build(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	rec, err := app.Service.Submit(ctx, sub)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, rec)
	}
	return printRecord(out, rec)
}

func runList(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	owner := fs.String("owner", "cli", "Owner id to list")
	limit := fs.Int("limit", 50, "Maximum records")
	asJSON := fs.Bool("json", false, "Print records as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := build(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	recs, err := app.Service.List(ctx, *owner, *limit, 0)
	if err != nil {
		return err
	}
	if *asJSON {
		for i := range recs {
			recs[i].DocumentPayload = ""
		}
		return writeJSON(out, recs)
	}
	return printTable(out, recs)
}

func printRecord(out io.Writer, rec submissions.Record) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", rec.ID)
	fmt.Fprintf(tw, "file\t%s (%s)\n", rec.FileName, submissions.FormatBytes(rec.FileSizeBytes))
	fmt.Fprintf(tw, "type\t%s\n", rec.DocumentType.Label())
	fmt.Fprintf(tw, "status\t%s\n", rec.Status.Label())
	if rec.ConfidenceScore != nil {
		fmt.Fprintf(tw, "confidence\t%.2f\n", *rec.ConfidenceScore)
	}
	if rec.Reason != "" {
		fmt.Fprintf(tw, "reason\t%s\n", rec.Reason)
	}
	if rec.FailureCode != "" {
		fmt.Fprintf(tw, "failure\t%s\n", rec.FailureCode)
	}
	return tw.Flush()
}

func printTable(out io.Writer, recs []submissions.Record) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSIZE\tTYPE\tSTATUS\tSUBMITTED")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.FileName,
			submissions.FormatBytes(rec.FileSizeBytes),
			rec.DocumentType.Label(),
			rec.Status.Label(),
			rec.SubmittedAt.Local().Format(time.DateTime),
		)
	}
	return tw.Flush()
}

func printTypes(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VALUE\tLABEL\tTASK")
	for _, info := range doctype.All() {
		task := ""
		if info.RequiresTask {
			task = "required"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Value, info.Label, task)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitErr(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
