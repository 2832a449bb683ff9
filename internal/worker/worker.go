// Package worker consumes document-processing jobs: fetch the raw upload,
// extract text, chunk, embed, and store the chunks.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"docuchat/internal/util"
	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/extract"
	"docuchat/pkg/queue"
	"docuchat/pkg/storage"
	"docuchat/pkg/store"
)

const (
	// processTimeout bounds one document end to end. It is independent of
	// any chat-request timeout.
	processTimeout = 5 * time.Minute

	defaultEmbedConcurrency = 4
)

// Worker processes queued documents.
type Worker struct {
	store            store.Store
	objects          storage.ObjectStore
	embedder         ai.Embedder
	embedConcurrency int
}

// New builds a document processor.
func New(st store.Store, objects storage.ObjectStore, embedder ai.Embedder, embedConcurrency int) *Worker {
	if embedConcurrency <= 0 {
		embedConcurrency = defaultEmbedConcurrency
	}
	return &Worker{
		store:            st,
		objects:          objects,
		embedder:         embedder,
		embedConcurrency: embedConcurrency,
	}
}

// Start attaches the worker to the queue.
func (w *Worker) Start(ctx context.Context, q *queue.RedisJobQueue, concurrency int) {
	q.Start(ctx, concurrency, w.Process)
}

// Process handles one job. Any failure marks the document error with a
// message; a document never sits in processing silently forever.
func (w *Worker) Process(ctx context.Context, job queue.JobStatus) error {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	doc, ok, err := w.store.GetDocument(ctx, job.OwnerID, job.DocumentID)
	if err != nil {
		return w.fail(ctx, job.DocumentID, fmt.Errorf("load document: %w", err))
	}
	if !ok {
		// Deleted while queued. Nothing to do.
		slog.Info("document gone before processing", "document_id", job.DocumentID)
		return nil
	}
	if err := w.store.SetDocumentStatus(ctx, doc.ID, domain.StatusProcessing, 0, ""); err != nil {
		return w.fail(ctx, doc.ID, fmt.Errorf("mark processing: %w", err))
	}

	obj, err := w.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return w.fail(ctx, doc.ID, fmt.Errorf("fetch upload: %w", err))
	}
	text, err := extract.ReadAll(obj, doc.ContentType, doc.Name)
	obj.Close()
	if err != nil {
		return w.fail(ctx, doc.ID, fmt.Errorf("extract text: %w", err))
	}

	pieces := extract.Chunks(text)
	if len(pieces) == 0 {
		return w.fail(ctx, doc.ID, fmt.Errorf("document contains no text"))
	}

	chunks, err := w.embedChunks(ctx, doc, pieces)
	if err != nil {
		return w.fail(ctx, doc.ID, fmt.Errorf("embed chunks: %w", err))
	}
	if err := w.store.InsertChunks(ctx, chunks); err != nil {
		return w.fail(ctx, doc.ID, fmt.Errorf("store chunks: %w", err))
	}
	if err := w.store.SetDocumentStatus(ctx, doc.ID, domain.StatusCompleted, len(chunks), ""); err != nil {
		return w.fail(ctx, doc.ID, fmt.Errorf("mark completed: %w", err))
	}
	slog.Info("document processed", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

func (w *Worker) embedChunks(ctx context.Context, doc domain.Document, pieces []string) ([]domain.Chunk, error) {
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.embedConcurrency)
	for i, piece := range pieces {
		i, piece := i, piece
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks[i] = domain.Chunk{
				ID:         util.NewID(),
				DocumentID: doc.ID,
				OwnerID:    doc.OwnerID,
				Index:      i,
				Content:    piece,
				Embedding:  w.embedder.Embed(gctx, piece),
				Metadata: map[string]string{
					"source": doc.Name,
					"size":   strconv.Itoa(len(piece)),
				},
				CreatedAt: now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (w *Worker) fail(ctx context.Context, documentID string, err error) error {
	// The processing context is often already expired when we get here;
	// the status write must still land or the document sits in
	// processing forever.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if setErr := w.store.SetDocumentStatus(ctx, documentID, domain.StatusError, 0, err.Error()); setErr != nil {
		slog.Error("mark document error failed", "document_id", documentID, "err", setErr)
	}
	return err
}
