// s3cp is a small CLI over the minis3 library: it uploads, downloads and
// deletes objects, fanning multiple arguments out across the worker pool.
//
// Usage:
//
//	s3cp [-config cfg.yaml] [-bucket b] put key=localfile [key=localfile ...]
//	s3cp [-config cfg.yaml] [-bucket b] get key [key ...]
//	s3cp [-config cfg.yaml] [-bucket b] del key [key ...]
//	s3cp [-config cfg.yaml] [-bucket b] ls  [prefix]
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheGU/minis3/pkg/config"
	"github.com/TheGU/minis3/pkg/obs/metrics"
	"github.com/TheGU/minis3/pkg/obs/tracing"
	"github.com/TheGU/minis3/pkg/pool"
)

var version = "0.1.0-dev"

func main() {
	cfgPath := flag.String("config", os.Getenv("MINIS3_CONFIG"), "path to YAML config")
	bucket := flag.String("bucket", "", "bucket override (defaults to config defaultBucket)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("s3cp", version)
		return
	}
	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: s3cp [-config cfg.yaml] [-bucket b] put|get|del|ls args...")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *bucket != "" {
		cfg.DefaultBucket = *bucket
	}

	ctx := context.Background()
	traceShutdown, terr := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if terr != nil {
		slog.Warn("tracing init failed", slog.String("error", terr.Error()))
	} else {
		defer func() { _ = traceShutdown(ctx) }()
	}

	p, err := pool.New(cfg.Credentials(), cfg.ClientOptions(), cfg.Pool.Size)
	if err != nil {
		slog.Error("failed to start pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	m := metrics.New()
	p.SetObserver(metrics.NewPoolMetrics(m.Registry()))
	p.Client().SetObserver(metrics.NewRequestMetrics(m.Registry()))

	ok := run(ctx, p, args[0], args[1:])
	if err := p.Close(); err != nil {
		slog.Warn("pool shutdown", slog.String("error", err.Error()))
	}
	st := p.Stats()
	slog.Info("done",
		slog.Uint64("submitted", st.Submitted),
		slog.Uint64("completed", st.Completed),
		slog.Uint64("failed", st.Failed),
	)
	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, p *pool.Pool, cmd string, args []string) bool {
	switch cmd {
	case "put":
		return putAll(ctx, p, args)
	case "get":
		return getAll(ctx, p, args)
	case "del":
		return delAll(ctx, p, args)
	case "ls":
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		items, err := p.Client().List(ctx, prefix, nil)
		if err != nil {
			slog.Error("list failed", slog.String("error", err.Error()))
			return false
		}
		for _, it := range items {
			fmt.Printf("%12d  %s  %s\n", it.Size, it.LastModified.Format("2006-01-02 15:04:05"), it.Key)
		}
		return true
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return false
	}
}

func putAll(ctx context.Context, p *pool.Pool, args []string) bool {
	futs := make(map[string]*pool.Future, len(args))
	for _, arg := range args {
		key, file, found := strings.Cut(arg, "=")
		if !found {
			file = arg
			key = filepath.Base(arg)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			slog.Error("read local file", slog.String("file", file), slog.String("error", err.Error()))
			return false
		}
		fut, err := p.Upload(ctx, key, bytes.NewReader(data), nil)
		if err != nil {
			slog.Error("submit upload", slog.String("key", key), slog.String("error", err.Error()))
			return false
		}
		futs[key] = fut
	}
	return await(ctx, futs, "uploaded")
}

func getAll(ctx context.Context, p *pool.Pool, args []string) bool {
	futs := make(map[string]*pool.Future, len(args))
	for _, key := range args {
		fut, err := p.Get(ctx, key, nil)
		if err != nil {
			slog.Error("submit get", slog.String("key", key), slog.String("error", err.Error()))
			return false
		}
		futs[key] = fut
	}
	ok := true
	for key, fut := range futs {
		resp, err := fut.Result(ctx)
		if err != nil {
			slog.Error("get failed", slog.String("key", key), slog.String("error", err.Error()))
			ok = false
			continue
		}
		out := filepath.Base(key)
		if err := os.WriteFile(out, resp.Body, 0o644); err != nil {
			slog.Error("write local file", slog.String("file", out), slog.String("error", err.Error()))
			ok = false
			continue
		}
		slog.Info("downloaded", slog.String("key", key), slog.Int("bytes", len(resp.Body)))
	}
	return ok
}

func delAll(ctx context.Context, p *pool.Pool, args []string) bool {
	futs := make(map[string]*pool.Future, len(args))
	for _, key := range args {
		fut, err := p.Delete(ctx, key, "")
		if err != nil {
			slog.Error("submit delete", slog.String("key", key), slog.String("error", err.Error()))
			return false
		}
		futs[key] = fut
	}
	return await(ctx, futs, "deleted")
}

func await(ctx context.Context, futs map[string]*pool.Future, verb string) bool {
	ok := true
	for key, fut := range futs {
		if _, err := fut.Result(ctx); err != nil {
			slog.Error(verb+" failed", slog.String("key", key), slog.String("error", err.Error()))
			ok = false
			continue
		}
		slog.Info(verb, slog.String("key", key))
	}
	return ok
}
