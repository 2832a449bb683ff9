package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/queue"
	"docuchat/pkg/storage"
	"docuchat/pkg/store"
)

type recordingEmbedder struct {
	calls int
}

func (e *recordingEmbedder) Embed(_ context.Context, text string) []float32 {
	e.calls++
	return ai.FallbackEmbed(text)
}

type fakeEnqueuer struct {
	jobs []string
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, documentID, ownerID string) (queue.JobStatus, error) {
	if f.err != nil {
		return queue.JobStatus{}, f.err
	}
	f.jobs = append(f.jobs, documentID)
	return queue.JobStatus{ID: "job-1", DocumentID: documentID, OwnerID: ownerID, Status: queue.StatusQueued}, nil
}

type failingSearchStore struct {
	store.Store
}

func (s *failingSearchStore) SearchChunks(context.Context, string, []float32, float64, int) ([]domain.RetrievedChunk, error) {
	return nil, errors.New("vector index offline")
}

func newTestApp(st store.Store) (*App, *recordingEmbedder, *fakeEnqueuer) {
	embedder := &recordingEmbedder{}
	enq := &fakeEnqueuer{}
	return New(st, storage.NewMemoryObjectStore(), enq, embedder, nil), embedder, enq
}

func seedCompletedDocument(t *testing.T, st *store.MemoryStore, embedder ai.Embedder, ownerID, docID, name, chunkText string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := st.SaveDocument(ctx, domain.Document{
		ID: docID, OwnerID: ownerID, Name: name, Status: domain.StatusCompleted,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if err := st.InsertChunks(ctx, []domain.Chunk{{
		ID: docID + "-c0", DocumentID: docID, OwnerID: ownerID, Index: 0,
		Content: chunkText, Embedding: embedder.Embed(ctx, chunkText), CreatedAt: now,
	}}); err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}
}

func TestPrepareContextRetrievesDocumentChunk(t *testing.T) {
	st := store.NewMemoryStore()
	a, embedder, _ := newTestApp(st)
	seedCompletedDocument(t, st, embedder, "alice", "doc-1", "policy.pdf", "The refund window is 30 days")

	prompt, err := a.PrepareContext(context.Background(), "alice", "what is the refund policy?")
	if err != nil {
		t.Fatalf("PrepareContext() error = %v", err)
	}
	if !strings.Contains(prompt, "The refund window is 30 days") {
		t.Fatalf("prompt missing retrieved chunk text: %q", prompt)
	}
	if !strings.Contains(prompt, "policy.pdf") {
		t.Fatalf("prompt missing document name: %q", prompt)
	}
}

func TestPrepareContextGreetingSkipsRetrieval(t *testing.T) {
	st := store.NewMemoryStore()
	a, embedder, _ := newTestApp(st)

	prompt, err := a.PrepareContext(context.Background(), "alice", "hello")
	if err != nil {
		t.Fatalf("PrepareContext() error = %v", err)
	}
	if embedder.calls != 0 {
		t.Fatalf("embedder called %d times for a greeting, want 0", embedder.calls)
	}
	if strings.Contains(prompt, "documents") {
		t.Fatalf("owner with no documents should get the plain greeting prompt: %q", prompt)
	}
}

func TestPrepareContextGreetingMentionsCompletedDocuments(t *testing.T) {
	st := store.NewMemoryStore()
	a, embedder, _ := newTestApp(st)
	seedCompletedDocument(t, st, embedder, "alice", "doc-1", "policy.pdf", "some text")
	embedder.calls = 0

	prompt, err := a.PrepareContext(context.Background(), "alice", "good morning")
	if err != nil {
		t.Fatalf("PrepareContext() error = %v", err)
	}
	if !strings.Contains(prompt, "documents") {
		t.Fatalf("greeting prompt should mention available documents: %q", prompt)
	}
	if embedder.calls != 0 {
		t.Fatalf("embedder called %d times for a greeting, want 0", embedder.calls)
	}
}

func TestPrepareContextNoMatchesUsesNoContextPrompt(t *testing.T) {
	st := store.NewMemoryStore()
	a, _, _ := newTestApp(st)

	prompt, err := a.PrepareContext(context.Background(), "alice", "what does section 3 say about refunds?")
	if err != nil {
		t.Fatalf("PrepareContext() error = %v", err)
	}
	if !strings.Contains(prompt, "could not find relevant information") {
		t.Fatalf("expected no-context prompt, got: %q", prompt)
	}
}

func TestPrepareContextSurfacesRetrievalError(t *testing.T) {
	st := &failingSearchStore{Store: store.NewMemoryStore()}
	a, _, _ := newTestApp(st)

	if _, err := a.PrepareContext(context.Background(), "alice", "anything but a greeting"); err == nil {
		t.Fatal("PrepareContext() error = nil, want retrieval error for caller to degrade on")
	}
}

func TestUploadDocumentStoresAndEnqueues(t *testing.T) {
	st := store.NewMemoryStore()
	a, _, enq := newTestApp(st)
	ctx := context.Background()

	doc, err := a.UploadDocument(ctx, "alice", "notes.txt", "text/plain", 5, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("UploadDocument() error = %v", err)
	}
	if doc.Status != domain.StatusUploading {
		t.Fatalf("doc.Status = %q, want %q", doc.Status, domain.StatusUploading)
	}
	if len(enq.jobs) != 1 || enq.jobs[0] != doc.ID {
		t.Fatalf("enqueued jobs = %v, want [%s]", enq.jobs, doc.ID)
	}
	obj, err := a.Objects.Get(ctx, doc.StorageKey)
	if err != nil {
		t.Fatalf("stored object missing: %v", err)
	}
	obj.Close()
}

func TestUploadDocumentEnqueueFailureMarksError(t *testing.T) {
	st := store.NewMemoryStore()
	a, _, enq := newTestApp(st)
	enq.err = errors.New("redis down")
	ctx := context.Background()

	_, err := a.UploadDocument(ctx, "alice", "notes.txt", "text/plain", 5, strings.NewReader("hello"))
	if err == nil {
		t.Fatal("UploadDocument() error = nil, want enqueue failure")
	}
	docs, err := st.ListDocumentsByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListDocumentsByOwner() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Status != domain.StatusError {
		t.Fatalf("docs = %+v, want one document in error state", docs)
	}
}

func TestDeleteDocumentRemovesObject(t *testing.T) {
	st := store.NewMemoryStore()
	a, _, _ := newTestApp(st)
	ctx := context.Background()

	doc, err := a.UploadDocument(ctx, "alice", "notes.txt", "text/plain", 5, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("UploadDocument() error = %v", err)
	}
	if err := a.DeleteDocument(ctx, "alice", doc.ID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if _, ok, _ := st.GetDocument(ctx, "alice", doc.ID); ok {
		t.Fatal("document still present after delete")
	}
	if _, err := a.Objects.Get(ctx, doc.StorageKey); err == nil {
		t.Fatal("stored object still present after delete")
	}
}

func TestCreateSessionRequiresProviderAndModel(t *testing.T) {
	st := store.NewMemoryStore()
	a, _, _ := newTestApp(st)
	if _, err := a.CreateSession(context.Background(), "alice", "t", "", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing provider")
	}
	if _, err := a.CreateSession(context.Background(), "alice", "t", "openai", " "); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestRecordTurnPersistsBothRoles(t *testing.T) {
	st := store.NewMemoryStore()
	a, _, _ := newTestApp(st)
	ctx := context.Background()
	session, err := a.CreateSession(ctx, "alice", "chat", "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	a.RecordTurn(ctx, "alice", session.ID, "question", "answer")

	msgs, err := st.ListMessages(ctx, "alice", session.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("roles = [%s, %s], want [user, assistant]", msgs[0].Role, msgs[1].Role)
	}
}
