// Command auditctl administers the audit store and reads item history.
//
//	auditctl [-config file] recreate
//	auditctl [-config file] history <itemId> [<language> <version>]
//	auditctl [-config file] ingest [-instance name] < payloads.jsonl
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/queue"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/worker"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/backend"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/cache"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	pkgredis "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/resilience"
)

const usage = "usage: auditctl [-config file] recreate | history <itemId> [<language> <version>] | ingest [-instance name]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: %v\n", err)
	}
	os.Exit(apperrors.ExitCode(err))
}

// historyReader is satisfied by both storage.Client and cache.HistoryCache.
type historyReader interface {
	QueryByItemID(ctx context.Context, itemID uuid.UUID) ([]audit.IndexedRecord, error)
	QueryByItemVersionLanguage(ctx context.Context, itemID uuid.UUID, language string, version int) ([]audit.IndexedRecord, error)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("auditctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, usage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "loading config: %v", err)
	}
	logger.SetupTo(stderr, cfg.Logging.Level, "text")

	switch rest[0] {
	case "recreate", "history", "ingest":
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown command %q\n%s", rest[0], usage)
	}

	opened, err := backend.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer opened.Close()
	client := opened.Client

	switch rest[0] {
	case "recreate":
		if len(rest) != 1 {
			return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, usage)
		}
		if err := client.RecreatePartition(ctx); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "recreated %s\n", client.CurrentPartition())
		return nil

	case "history":
		var reader historyReader = client
		if cfg.Redis.Enabled {
			rc, err := pkgredis.NewClient(cfg.Redis)
			if err != nil {
				slog.Warn("redis unavailable, reading from the store", "error", err)
			} else {
				defer rc.Close()
				reader = cache.New(client, rc, cfg.Redis.CacheTTL, nil)
			}
		}
		return history(ctx, reader, cfg.Store.QueryTimeout, rest[1:], stdout)

	default:
		return ingest(ctx, client, cfg.Queue, rest[1:], stdin, stdout, stderr)
	}
}

type historyEntry struct {
	ID uuid.UUID `json:"Id"`
	audit.IndexedRecord
}

func history(ctx context.Context, reader historyReader, timeout time.Duration, args []string, stdout io.Writer) error {
	if len(args) != 1 && len(args) != 3 {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, usage)
	}
	itemID, err := uuid.Parse(args[0])
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "item id %q: %v", args[0], err)
	}

	var recs []audit.IndexedRecord
	err = resilience.WithTimeout(ctx, timeout, "history query", func(ctx context.Context) error {
		var err error
		if len(args) == 1 {
			recs, err = reader.QueryByItemID(ctx, itemID)
			return err
		}
		version, perr := strconv.Atoi(args[2])
		if perr != nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "version %q: %v", args[2], perr)
		}
		recs, err = reader.QueryByItemVersionLanguage(ctx, itemID, args[1], version)
		return err
	})
	if err != nil {
		return err
	}

	out := make([]historyEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyEntry{ID: rec.ID, IndexedRecord: rec})
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ingest feeds one JSON payload per input line through the queue and workers.
func ingest(ctx context.Context, w worker.Writer, qcfg config.QueueConfig, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	instance := fs.String("instance", audit.DefaultInstance, "source instance tag")
	if err := fs.Parse(args); err != nil {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
	}

	q := queue.New(qcfg.Capacity, nil)
	var stored int
	counter := worker.ObserverFunc(func(context.Context, worker.Completion) { stored++ })
	// a single worker keeps the counter and the input order intact
	wk := worker.New(0, q, w, nil, counter)

	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	done := make(chan error, 1)
	go func() {
		err := wk.Run(ctx)
		if err != nil {
			cancelFeed()
		}
		done <- err
	}()

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lines := 0
	var feedErr error
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := q.Enqueue(feedCtx, queue.Item{SourceInstance: *instance, Raw: line}); err != nil {
			feedErr = err
			break
		}
		lines++
	}
	if err := scanner.Err(); err != nil && feedErr == nil {
		feedErr = fmt.Errorf("reading input: %w", err)
	}
	q.Close()

	if err := <-done; err != nil {
		return err
	}
	if feedErr != nil && !errors.Is(feedErr, context.Canceled) {
		return feedErr
	}
	fmt.Fprintf(stdout, "read %d payloads, stored %d, dropped %d\n", lines, stored, lines-stored)
	return nil
}
