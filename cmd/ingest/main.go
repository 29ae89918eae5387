// Command ingest feeds documents into the vector store. It watches a
// directory for JSON document files and can additionally consume documents
// from a NATS subject, pushing both through the same ingestion pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
	"github.com/CorpusAI/corpus-mvp/engine/ingest"
	"github.com/CorpusAI/corpus-mvp/engine/semantic"
	"github.com/CorpusAI/corpus-mvp/pkg/fn"
	"github.com/CorpusAI/corpus-mvp/pkg/metrics"
	"github.com/CorpusAI/corpus-mvp/pkg/natsutil"
	"github.com/CorpusAI/corpus-mvp/pkg/ollama"
)

var met = metrics.New()

var (
	mDocsTotal = func(source string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("corpus_ingest_docs_total", "source", source), "Total documents ingested")
	}
	mErrorsTotal = func(stage string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("corpus_ingest_errors_total", "stage", stage), "Total ingestion errors")
	}
	mChunksTotal    = met.Counter("corpus_ingest_chunks_total", "Total chunks created")
	mFilesProcessed = met.Counter("corpus_ingest_files_processed_total", "Files processed")
	mBytesProcessed = met.Counter("corpus_ingest_bytes_processed_total", "Total bytes of source files processed")
	mActiveDocs     = met.Gauge("corpus_ingest_active_docs", "Currently processing documents")
	mQueueDepth     = met.Gauge("corpus_ingest_queue_depth", "Files waiting to process")
	mLastScan       = met.Gauge("corpus_ingest_last_scan_timestamp", "Epoch of last directory scan")
	mPipelineDur    = met.Histogram("corpus_ingest_pipeline_duration_seconds", "Per-doc pipeline time", nil)
)

func main() {
	godotenv.Load()

	var (
		dataDir     = flag.String("dir", "/var/lib/corpus/inbox", "directory to watch for JSON document files")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		ollamaModel = flag.String("model", envOr("OLLAMA_MODEL", "nomic-embed-text"), "Ollama embedding model")
		embedDims   = flag.Int("dims", 768, "embedding vector dimensions")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "corpus"), "Qdrant collection name")
		natsURL     = flag.String("nats", os.Getenv("NATS_URL"), "NATS server URL; empty disables the queue consumer")
		interval    = flag.Duration("interval", 30*time.Second, "scan interval")
		workers     = flag.Int("workers", 4, "concurrent documents per file")
		stateFile   = flag.String("state", "", "processed files state (defaults to <dir>/.ingest-state.json)")
		metricsPort = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	if *stateFile == "" {
		*stateFile = filepath.Join(*dataDir, ".ingest-state.json")
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Connect Qdrant
	store, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.EnsureCollection(ctx, *embedDims); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", *embedDims)

	embedder := ollama.New(*ollamaURL, *ollamaModel, *embedDims)
	log.Info("using Ollama embeddings", "model", *ollamaModel)

	deps := ingest.Deps{
		Embedder: embedder,
		Store:    store,
		Logger:   log,
	}
	svc := ingest.NewService(deps)

	// Optional NATS consumer alongside the directory watcher.
	if *natsURL != "" {
		nc, err := natsutil.Connect(*natsURL, "corpus-ingest")
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		sub, err := ingest.StartConsumer(nc, deps)
		if err != nil {
			log.Error("nats subscribe failed", "error", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
		log.Info("consuming documents from NATS", "subject", ingest.IngestSubject)
	}

	processed := loadState(*stateFile)
	os.MkdirAll(*dataDir, 0o755)
	log.Info("watching for documents", "dir", *dataDir, "interval", *interval)

	scan := func() {
		mLastScan.Set(time.Now().Unix())
		entries, err := os.ReadDir(*dataDir)
		if err != nil {
			mErrorsTotal("scan").Inc()
			log.Error("readdir failed", "error", err)
			return
		}

		files := fn.Filter(entries, func(e os.DirEntry) bool {
			if e.IsDir() || e.Name()[0] == '.' {
				return false
			}
			return strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), ".txt")
		})

		for _, e := range files {
			path := filepath.Join(*dataDir, e.Name())
			info, err := e.Info()
			if err != nil {
				continue
			}
			key := fmt.Sprintf("%s:%d", e.Name(), info.Size())
			if processed[key] {
				continue
			}

			mQueueDepth.Inc()
			mBytesProcessed.Add(info.Size())
			log.Info("processing file", "file", e.Name())
			count, errs := processFile(ctx, path, svc, *workers)
			mQueueDepth.Dec()
			mFilesProcessed.Inc()
			log.Info("file done", "file", e.Name(), "ingested", count, "errors", errs)

			// Only mark fully processed files so failures retry next scan.
			if errs == 0 {
				processed[key] = true
				saveState(*stateFile, processed)
			} else {
				log.Warn("file had errors, will retry on next scan", "file", e.Name(), "errors", errs)
			}
		}
	}

	scan()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// readDocuments decodes a stream or array of documents from raw JSON.
// readTextDocument wraps a plain-text file as a single document, using the
// file name as the title.
func readTextDocument(path string, data []byte) []ingest.Document {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	name := filepath.Base(path)
	return []ingest.Document{{
		Text: text,
		Meta: domain.Metadata{
			Source:       name,
			Title:        strings.TrimSuffix(name, ".txt"),
			DocumentType: "text",
		},
	}}
}

func readDocuments(data []byte) []ingest.Document {
	var docs []ingest.Document
	if err := json.Unmarshal(data, &docs); err == nil {
		return docs
	}

	// Fall back to newline-delimited JSON objects.
	docs = docs[:0]
	dec := json.NewDecoder(strings.NewReader(string(data)))
	for {
		var doc ingest.Document
		if err := dec.Decode(&doc); err != nil {
			break
		}
		docs = append(docs, doc)
	}
	return docs
}

// processFile ingests every document in the file with bounded concurrency.
// Retryable failures get a few backed-off attempts before counting as errors.
func processFile(ctx context.Context, path string, svc *ingest.Service, workers int) (int, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		mErrorsTotal("read").Inc()
		return 0, 1
	}

	var docs []ingest.Document
	if strings.HasSuffix(path, ".txt") {
		docs = readTextDocument(path, data)
	} else {
		docs = readDocuments(data)
	}
	if len(docs) == 0 {
		return 0, 0
	}

	log := slog.Default()
	retry := fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 10 * time.Second, Jitter: true}

	results := fn.ParMap(docs, workers, func(doc ingest.Document) fn.Result[ingest.Receipt] {
		mActiveDocs.Inc()
		defer mActiveDocs.Dec()

		start := time.Now()
		res := fn.RetryIf(ctx, retry, domain.IsRetryable, func(ctx context.Context) fn.Result[ingest.Receipt] {
			return fn.FromPair(svc.Ingest(ctx, doc.Text, doc.Meta))
		})
		mPipelineDur.Since(start)
		return res
	})

	count, errs := 0, 0
	for i, res := range results {
		receipt, err := res.Unwrap()
		if err != nil {
			log.Error("pipeline error", "source", docs[i].Meta.Source, "error", err)
			mErrorsTotal("pipeline").Inc()
			errs++
			continue
		}
		source := docs[i].Meta.Source
		if source == "" {
			source = "unknown"
		}
		mDocsTotal(source).Inc()
		mChunksTotal.Add(int64(receipt.ChunksCreated))
		count++
	}
	return count, errs
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	os.WriteFile(path, data, 0o644)
}
