package worker

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/queue"
	"docuchat/pkg/storage"
	"docuchat/pkg/store"
)

type fallbackEmbedder struct{}

func (fallbackEmbedder) Embed(_ context.Context, text string) []float32 {
	return ai.FallbackEmbed(text)
}

func uploadedDocument(t *testing.T, st *store.MemoryStore, objects storage.ObjectStore, ownerID, id, name, body string) domain.Document {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	doc := domain.Document{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		SizeBytes:   int64(len(body)),
		ContentType: "text/plain",
		StorageKey:  "uploads/" + ownerID + "/" + id,
		Status:      domain.StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if err := objects.Put(ctx, doc.StorageKey, strings.NewReader(body), doc.SizeBytes, doc.ContentType); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return doc
}

func TestProcessCompletesDocument(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	w := New(st, objects, fallbackEmbedder{}, 2)
	ctx := context.Background()

	body := strings.Repeat("the refund window is 30 days. ", 100)
	doc := uploadedDocument(t, st, objects, "alice", "doc-1", "policy.txt", body)

	err := w.Process(ctx, queue.JobStatus{ID: "job-1", DocumentID: doc.ID, OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, ok, err := st.GetDocument(ctx, "alice", doc.ID)
	if err != nil || !ok {
		t.Fatalf("GetDocument() = %v, %v", ok, err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want %q (error: %q)", got.Status, domain.StatusCompleted, got.ErrorMessage)
	}
	if got.ChunkCount < 2 {
		t.Fatalf("ChunkCount = %d, want several for a %d-byte text", got.ChunkCount, len(body))
	}

	// Chunks are retrievable once the document is completed.
	vec := ai.FallbackEmbed("what is the refund window?")
	chunks, err := st.SearchChunks(ctx, "alice", vec, 0.3, 5)
	if err != nil {
		t.Fatalf("SearchChunks() error = %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected retrievable chunks after processing")
	}
	for _, chunk := range chunks {
		if chunk.Metadata["source"] != "policy.txt" {
			t.Fatalf("chunk metadata source = %q, want policy.txt", chunk.Metadata["source"])
		}
	}
}

func TestProcessMissingObjectMarksError(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	w := New(st, objects, fallbackEmbedder{}, 2)
	ctx := context.Background()
	now := time.Now().UTC()

	doc := domain.Document{
		ID: "doc-1", OwnerID: "alice", Name: "ghost.txt",
		StorageKey: "uploads/alice/doc-1", Status: domain.StatusUploading,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}

	if err := w.Process(ctx, queue.JobStatus{ID: "job-1", DocumentID: doc.ID, OwnerID: "alice"}); err == nil {
		t.Fatal("Process() error = nil, want fetch failure")
	}
	got, _, _ := st.GetDocument(ctx, "alice", doc.ID)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusError)
	}
	if got.ErrorMessage == "" {
		t.Fatal("error message must be recorded")
	}
}

func TestProcessDeletedDocumentIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	w := New(st, storage.NewMemoryObjectStore(), fallbackEmbedder{}, 2)

	err := w.Process(context.Background(), queue.JobStatus{ID: "job-1", DocumentID: "gone", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Process() error = %v, want nil for deleted document", err)
	}
}

// ctxAwareStore refuses writes on an expired context, like the real
// postgres-backed store does.
type ctxAwareStore struct {
	*store.MemoryStore
}

func (s ctxAwareStore) SetDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, chunkCount int, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.SetDocumentStatus(ctx, id, status, chunkCount, errMsg)
}

// stalledObjectStore blocks every Get until the caller's context dies.
type stalledObjectStore struct {
	storage.ObjectStore
}

func (s stalledObjectStore) Get(ctx context.Context, _ string) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcessTimeoutStillMarksDocumentError(t *testing.T) {
	mem := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	doc := uploadedDocument(t, mem, objects, "alice", "doc-1", "slow.txt", "some text")

	w := New(ctxAwareStore{mem}, stalledObjectStore{objects}, fallbackEmbedder{}, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Process(ctx, queue.JobStatus{ID: "job-1", DocumentID: doc.ID, OwnerID: "alice"}); err == nil {
		t.Fatal("Process() error = nil, want timeout failure")
	}

	got, _, _ := mem.GetDocument(context.Background(), "alice", doc.ID)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want %q; a timed-out document must not stay in processing", got.Status, domain.StatusError)
	}
	if got.ErrorMessage == "" {
		t.Fatal("error message must be recorded for the timed-out document")
	}
}

func TestProcessEmptyDocumentMarksError(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	w := New(st, objects, fallbackEmbedder{}, 2)
	ctx := context.Background()

	doc := uploadedDocument(t, st, objects, "alice", "doc-1", "empty.txt", "")

	if err := w.Process(ctx, queue.JobStatus{ID: "job-1", DocumentID: doc.ID, OwnerID: "alice"}); err == nil {
		t.Fatal("Process() error = nil, want empty-document failure")
	}
	got, _, _ := st.GetDocument(ctx, "alice", doc.ID)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusError)
	}
}
