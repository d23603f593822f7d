package submissions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vriksha-code/verisure/internal/datauri"
	"github.com/vriksha-code/verisure/internal/extract"
	"github.com/vriksha-code/verisure/internal/notify"
	"github.com/vriksha-code/verisure/internal/oracle"
	"github.com/vriksha-code/verisure/internal/queue"
	"github.com/vriksha-code/verisure/internal/shared/storage/object/local"
)

type countingOracle struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32, req oracle.Request) (oracle.Verdict, error)
}

func (o *countingOracle) Verify(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	n := o.calls.Add(1)
	return o.fn(ctx, n, req)
}

func verdictOracle(v oracle.Verdict) *countingOracle {
	return &countingOracle{fn: func(context.Context, int32, oracle.Request) (oracle.Verdict, error) { return v, nil }}
}

func errorOracle(err error) *countingOracle {
	return &countingOracle{fn: func(context.Context, int32, oracle.Request) (oracle.Verdict, error) { return oracle.Verdict{}, err }}
}

type noteRecorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *noteRecorder) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *noteRecorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.notes...)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk unplugged") }

// brokenStore fails every Create after the first okCreates, and every Remove
// when removeErr is set.
type brokenStore struct {
	*MemoryStore
	creates   atomic.Int32
	okCreates int32
	removeErr error
}

func (s *brokenStore) Create(ctx context.Context, stub Stub) (Record, error) {
	if s.creates.Add(1) > s.okCreates {
		return Record{}, errors.New("connection reset")
	}
	return s.MemoryStore.Create(ctx, stub)
}

func (s *brokenStore) Remove(ctx context.Context, id string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.MemoryStore.Remove(ctx, id)
}

func syncService(client oracle.Client) (*Service, *MemoryStore, *noteRecorder) {
	store := NewMemoryStore()
	notes := &noteRecorder{}
	return &Service{
		Store:      store,
		Oracle:     client,
		Notifier:   notes,
		Sync:       true,
		RetryDelay: time.Millisecond,
	}, store, notes
}

func pngSubmission(docType string) Submission {
	body := []byte("\x89PNG\r\n\x1a\nfake")
	return Submission{
		OwnerID:      "guest:g1",
		SubmittedBy:  "Asha",
		FileName:     "plan.png",
		Body:         bytes.NewReader(body),
		Size:         int64(len(body)),
		MediaType:    "image/png",
		DocumentType: docType,
	}
}

func TestSubmitFloorPlanManualReviewVerdict(t *testing.T) {
	client := verdictOracle(oracle.Verdict{
		Status:          oracle.StatusRequiresManualReview,
		Reason:          "The fire exit sign is only partially visible.",
		ConfidenceScore: ptr(0.72),
	})
	var seen oracle.Request
	base := client.fn
	client.fn = func(ctx context.Context, n int32, req oracle.Request) (oracle.Verdict, error) {
		seen = req
		return base(ctx, n, req)
	}
	svc, store, notes := syncService(client)

	rec, err := svc.Submit(context.Background(), pngSubmission("floor_plan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != StatusRequiresManualReview {
		t.Fatalf("expected requires_manual_review, got %s", rec.Status)
	}
	if rec.ConfidenceScore == nil || *rec.ConfidenceScore != 0.72 {
		t.Fatalf("expected confidence 0.72, got %v", rec.ConfidenceScore)
	}
	if rec.Reason != "The fire exit sign is only partially visible." {
		t.Fatalf("unexpected reason %q", rec.Reason)
	}
	if got := client.calls.Load(); got != 1 {
		t.Fatalf("expected 1 oracle call, got %d", got)
	}
	if !strings.HasPrefix(seen.Payload, "data:image/png;base64,") {
		t.Fatalf("expected data URI payload, got %.40q", seen.Payload)
	}
	if seen.DocumentType != "floor_plan" {
		t.Fatalf("unexpected document type %q", seen.DocumentType)
	}
	stored, _ := store.Get(context.Background(), rec.ID)
	if stored.DocumentPayload != seen.Payload {
		t.Fatalf("expected payload kept on the record without a blob store")
	}
	if n := len(notes.all()); n != 0 {
		t.Fatalf("expected no notifications, got %d", n)
	}
}

func TestSubmitOversizeCreatesNothing(t *testing.T) {
	client := verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"})
	svc, store, _ := syncService(client)
	sub := pngSubmission("floor_plan")
	sub.Size = 6 << 20

	_, err := svc.Submit(context.Background(), sub)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "file" {
		t.Fatalf("expected file ValidationError, got %v", err)
	}
	if got, _ := store.List(context.Background(), ListOptions{}); len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
	if client.calls.Load() != 0 {
		t.Fatalf("oracle should not be called")
	}
}

func TestSubmitBodyLargerThanDeclaredIsReadError(t *testing.T) {
	svc, store, notes := syncService(verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"}))
	sub := pngSubmission("floor_plan")
	sub.Body = bytes.NewReader(make([]byte, MaxUploadBytes+10))

	_, err := svc.Submit(context.Background(), sub)
	var rerr *datauri.ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReadError, got %v", err)
	}
	if got, _ := store.List(context.Background(), ListOptions{}); len(got) != 0 {
		t.Fatalf("expected stub removed, got %d records", len(got))
	}
	if n := len(notes.all()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}
}

func TestSubmitPDFGoesToManualReview(t *testing.T) {
	client := verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"})
	svc, _, _ := syncService(client)
	svc.Inspect = func(ctx context.Context, data []byte, mediaType, fileName string) (extract.Report, error) {
		return extract.Report{MediaType: mediaType, PageCount: 3}, nil
	}
	body := []byte("%PDF-1.4 fake")
	rec, err := svc.Submit(context.Background(), Submission{
		OwnerID:      "guest:g1",
		SubmittedBy:  "Asha",
		FileName:     "certificate.pdf",
		Body:         bytes.NewReader(body),
		Size:         int64(len(body)),
		MediaType:    "application/pdf",
		DocumentType: "compliance_certificate",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != StatusRequiresManualReview || rec.Reason != ReasonManualReview {
		t.Fatalf("unexpected outcome %s %q", rec.Status, rec.Reason)
	}
	if rec.ConfidenceScore != nil {
		t.Fatalf("manual review routing should carry no confidence")
	}
	if rec.PageCount != 3 {
		t.Fatalf("expected page count 3, got %d", rec.PageCount)
	}
	if client.calls.Load() != 0 {
		t.Fatalf("oracle must not be called for non-images")
	}
}

func TestSubmitOracleFailureRejectsOnce(t *testing.T) {
	tests := []struct {
		name      string
		client    *countingOracle
		timeout   time.Duration
		code      string
		retryable bool
		calls     int32
	}{
		{
			name:   "unavailable",
			client: errorOracle(&oracle.Error{Kind: oracle.KindUnavailable, Err: errors.New("503")}),
			code:   ErrorCodeOracleUnavailable,
			calls:  1,
		},
		{
			name:      "transport twice",
			client:    errorOracle(&oracle.Error{Kind: oracle.KindTransport, Err: errors.New("reset")}),
			code:      ErrorCodeOracleUnavailable,
			retryable: true,
			calls:     2,
		},
		{
			name: "timeout",
			client: &countingOracle{fn: func(ctx context.Context, _ int32, _ oracle.Request) (oracle.Verdict, error) {
				<-ctx.Done()
				return oracle.Verdict{}, ctx.Err()
			}},
			timeout:   20 * time.Millisecond,
			code:      ErrorCodeOracleTimeout,
			retryable: true,
			calls:     2,
		},
		{
			name:   "malformed verdict",
			client: verdictOracle(oracle.Verdict{Status: oracle.StatusVerified}),
			code:   ErrorCodeOracleMalformed,
			calls:  1,
		},
		{
			name:   "unclassified error",
			client: errorOracle(errors.New("boom")),
			code:   ErrorCodeOracle,
			calls:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, notes := syncService(tt.client)
			svc.OracleTimeout = tt.timeout

			rec, err := svc.Submit(context.Background(), pngSubmission("aadhaar_card"))
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if rec.Status != StatusRejected || rec.Reason != ReasonAnalysisFailed {
				t.Fatalf("unexpected outcome %s %q", rec.Status, rec.Reason)
			}
			if rec.FailureCode != tt.code || rec.Retryable != tt.retryable {
				t.Fatalf("expected (%s,%v), got (%s,%v)", tt.code, tt.retryable, rec.FailureCode, rec.Retryable)
			}
			if got := tt.client.calls.Load(); got != tt.calls {
				t.Fatalf("expected %d oracle calls, got %d", tt.calls, got)
			}
			got := notes.all()
			if len(got) != 1 {
				t.Fatalf("expected exactly one notification, got %d", len(got))
			}
			if got[0].Title != "Analysis Error" || got[0].Variant != notify.VariantDestructive || got[0].SubmissionID != rec.ID {
				t.Fatalf("unexpected notification %+v", got[0])
			}
		})
	}
}

func TestSubmitRetriesTransportOnce(t *testing.T) {
	client := &countingOracle{fn: func(_ context.Context, n int32, _ oracle.Request) (oracle.Verdict, error) {
		if n == 1 {
			return oracle.Verdict{}, &oracle.Error{Kind: oracle.KindTransport, Err: io.ErrUnexpectedEOF}
		}
		return oracle.Verdict{Status: oracle.StatusVerified, Reason: "All details match."}, nil
	}}
	svc, _, notes := syncService(client)

	rec, err := svc.Submit(context.Background(), pngSubmission("marksheet_10"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != StatusVerified || client.calls.Load() != 2 {
		t.Fatalf("expected verified after retry, got %s with %d calls", rec.Status, client.calls.Load())
	}
	if len(notes.all()) != 0 {
		t.Fatalf("no notification expected on recovered retry")
	}
}

func TestSubmitReadErrorRemovesStub(t *testing.T) {
	client := verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"})
	svc, store, notes := syncService(client)
	sub := pngSubmission("floor_plan")
	sub.Body = failingReader{}

	_, err := svc.Submit(context.Background(), sub)
	var rerr *datauri.ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReadError, got %v", err)
	}
	if got, _ := store.List(context.Background(), ListOptions{}); len(got) != 0 {
		t.Fatalf("expected stub to be removed")
	}
	got := notes.all()
	if len(got) != 1 || got[0].Title != "File Error" || got[0].Description != "Could not read the uploaded file." {
		t.Fatalf("unexpected notifications %+v", got)
	}
	if client.calls.Load() != 0 {
		t.Fatalf("oracle must not be called")
	}
}

func TestSubmitRecordRemovedDuringAnalysis(t *testing.T) {
	store := NewMemoryStore()
	notes := &noteRecorder{}
	client := &countingOracle{}
	client.fn = func(ctx context.Context, _ int32, _ oracle.Request) (oracle.Verdict, error) {
		recs, _ := store.List(ctx, ListOptions{})
		for _, r := range recs {
			_ = store.Remove(ctx, r.ID)
		}
		return oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"}, nil
	}
	svc := &Service{Store: store, Oracle: client, Notifier: notes, Sync: true}

	if _, err := svc.Submit(context.Background(), pngSubmission("floor_plan")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(notes.all()) != 0 {
		t.Fatalf("update of a removed record must be a silent no-op")
	}
}

func TestSubmitOraclePanicRejects(t *testing.T) {
	client := &countingOracle{fn: func(context.Context, int32, oracle.Request) (oracle.Verdict, error) {
		panic("provider bug")
	}}
	svc, _, notes := syncService(client)

	rec, err := svc.Submit(context.Background(), pngSubmission("floor_plan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != StatusRejected || rec.FailureCode != ErrorCodeInternal {
		t.Fatalf("expected internal rejection, got %s %s", rec.Status, rec.FailureCode)
	}
	if len(notes.all()) != 1 {
		t.Fatalf("expected one notification")
	}
}

func TestSubmitAsyncReachesTerminal(t *testing.T) {
	client := verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok", ConfidenceScore: ptr(0.95)})
	svc, store, _ := syncService(client)
	svc.Sync = false

	rec, err := svc.Submit(context.Background(), pngSubmission("aadhaar_card"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != StatusAnalyzing {
		t.Fatalf("expected analyzing on return, got %s", rec.Status)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := store.Get(context.Background(), rec.ID)
		if got.Status.Terminal() {
			if got.Status != StatusVerified {
				t.Fatalf("expected verified, got %s", got.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("record never reached a terminal status")
}

func TestSubmitWithBlobsAndQueue(t *testing.T) {
	client := verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"})
	store := NewMemoryStore()
	blobs := local.New(t.TempDir(), "http://localhost/files")
	var sent []queue.Message
	svc := &Service{
		Store:  store,
		Oracle: client,
		Blobs:  blobs,
		Queue: queue.Func(func(_ context.Context, msg queue.Message) error {
			sent = append(sent, msg)
			return nil
		}),
	}
	ctx := WithRequestID(context.Background(), "req-1")

	rec, err := svc.Submit(ctx, pngSubmission("floor_plan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != StatusAnalyzing || rec.StorageKey == "" {
		t.Fatalf("expected the queued record back from Submit, got %+v", rec)
	}
	if len(sent) != 1 || sent[0].SubmissionID != rec.ID || sent[0].RequestID != "req-1" {
		t.Fatalf("unexpected queue messages %+v", sent)
	}
	queued, _ := store.Get(ctx, rec.ID)
	if queued.Status != StatusAnalyzing || queued.StorageKey == "" {
		t.Fatalf("expected analyzing record with storage key, got %+v", queued)
	}
	if queued.DocumentPayload != "" {
		t.Fatalf("payload should live in the blob store only")
	}
	if !strings.HasPrefix(queued.DocumentURL, "http://localhost/files/") {
		t.Fatalf("unexpected document url %q", queued.DocumentURL)
	}
	if client.calls.Load() != 0 {
		t.Fatalf("oracle must wait for the worker")
	}

	if err := svc.Process(ctx, rec.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	done, _ := store.Get(ctx, rec.ID)
	if done.Status != StatusVerified {
		t.Fatalf("expected verified after processing, got %s", done.Status)
	}

	if err := svc.Process(ctx, rec.ID); err != nil {
		t.Fatalf("Process terminal: %v", err)
	}
	if client.calls.Load() != 1 {
		t.Fatalf("terminal record must not be re-verified")
	}
}

func TestSubmitQueueFailureRejects(t *testing.T) {
	svc, _, notes := syncService(verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"}))
	svc.Sync = false
	svc.Queue = queue.Func(func(context.Context, queue.Message) error { return errors.New("sqs down") })

	rec, err := svc.Submit(context.Background(), pngSubmission("floor_plan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, _ := svc.Store.Get(context.Background(), rec.ID)
	if got.Status != StatusRejected || got.FailureCode != ErrorCodeQueue || !got.Retryable {
		t.Fatalf("unexpected record %+v", got)
	}
	if len(notes.all()) != 1 {
		t.Fatalf("expected one notification")
	}
}

func TestProcessMissingRecordIsNoop(t *testing.T) {
	svc, _, notes := syncService(verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"}))
	if err := svc.Process(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(notes.all()) != 0 {
		t.Fatalf("expected no notification")
	}
}

func TestRetractScopesToOwner(t *testing.T) {
	blobs := local.New(t.TempDir(), "")
	svc, store, _ := syncService(verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"}))
	svc.Blobs = blobs
	ctx := context.Background()

	rec, err := svc.Submit(ctx, pngSubmission("floor_plan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Retract(ctx, "guest:someone-else", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another owner, got %v", err)
	}
	if err := svc.Retract(ctx, "guest:g1", rec.ID); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record still present")
	}
	if _, err := blobs.Open(ctx, rec.StorageKey); err == nil {
		t.Fatalf("blob still present")
	}
}

func TestSubmitBatchKeepsOrder(t *testing.T) {
	client := verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"})
	svc, store, _ := syncService(client)

	subs := []Submission{pngSubmission("floor_plan"), pngSubmission("aadhaar_card"), pngSubmission("marksheet_12")}
	subs[0].FileName = "first.png"
	subs[1].FileName = "second.png"
	subs[2].FileName = "third.png"

	out, err := svc.SubmitBatch(context.Background(), subs)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	for _, rec := range out {
		if rec.Status != StatusVerified {
			t.Fatalf("expected all verified, got %s for %s", rec.Status, rec.FileName)
		}
	}
	listed, _ := store.List(context.Background(), ListOptions{OwnerID: "guest:g1"})
	if listed[0].FileName != "third.png" || listed[2].FileName != "first.png" {
		t.Fatalf("unexpected listing order %s, %s, %s", listed[0].FileName, listed[1].FileName, listed[2].FileName)
	}
}

func TestSubmitBatchValidatesEverythingFirst(t *testing.T) {
	svc, store, _ := syncService(verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"}))
	subs := []Submission{pngSubmission("floor_plan"), pngSubmission("passport")}

	_, err := svc.SubmitBatch(context.Background(), subs)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "files[1].documentType" {
		t.Fatalf("expected files[1].documentType error, got %v", err)
	}
	if got, _ := store.List(context.Background(), ListOptions{}); len(got) != 0 {
		t.Fatalf("no record may be created when any file is invalid")
	}
}

func TestSubmitBatchCreateFailureLeavesNoRecord(t *testing.T) {
	client := verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"})
	svc, _, notes := syncService(client)
	store := &brokenStore{MemoryStore: NewMemoryStore(), okCreates: 1}
	svc.Store = store

	subs := []Submission{pngSubmission("floor_plan"), pngSubmission("aadhaar_card"), pngSubmission("marksheet_12")}
	if _, err := svc.SubmitBatch(context.Background(), subs); err == nil {
		t.Fatalf("expected SubmitBatch to fail")
	}
	if got, _ := store.List(context.Background(), ListOptions{}); len(got) != 0 {
		t.Fatalf("expected created stubs to be retracted, got %d", len(got))
	}
	if client.calls.Load() != 0 || len(notes.all()) != 0 {
		t.Fatalf("nothing may be verified or notified for a failed batch")
	}
}

func TestSubmitBatchCreateFailureRejectsUnremovableStubs(t *testing.T) {
	svc, _, notes := syncService(verdictOracle(oracle.Verdict{Status: oracle.StatusVerified, Reason: "ok"}))
	store := &brokenStore{MemoryStore: NewMemoryStore(), okCreates: 1, removeErr: errors.New("connection reset")}
	svc.Store = store

	subs := []Submission{pngSubmission("floor_plan"), pngSubmission("aadhaar_card")}
	if _, err := svc.SubmitBatch(context.Background(), subs); err == nil {
		t.Fatalf("expected SubmitBatch to fail")
	}
	got, _ := store.List(context.Background(), ListOptions{})
	if len(got) != 1 {
		t.Fatalf("expected the first stub to remain, got %d records", len(got))
	}
	if got[0].Status != StatusRejected || got[0].FailureCode != ErrorCodeStorage || !got[0].Retryable {
		t.Fatalf("expected retryable storage rejection, got %+v", got[0])
	}
	if n := len(notes.all()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}
}

func TestSubmitAsyncCompletesOutOfOrder(t *testing.T) {
	const n = 3
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewFeed(NewMemoryStore())

	gates := make([]chan struct{}, n)
	index := make(map[string]int, n)
	subs := make([]Submission, n)
	for i := range subs {
		gates[i] = make(chan struct{})
		body := []byte(fmt.Sprintf("\x89PNG\r\n\x1a\nfile-%d", i))
		index[datauri.EncodeBytes("image/png", body)] = i
		subs[i] = pngSubmission("floor_plan")
		subs[i].FileName = fmt.Sprintf("file-%d.png", i)
		subs[i].Body = bytes.NewReader(body)
		subs[i].Size = int64(len(body))
	}
	client := &countingOracle{fn: func(ctx context.Context, _ int32, req oracle.Request) (oracle.Verdict, error) {
		i, ok := index[req.Payload]
		if !ok {
			return oracle.Verdict{}, errors.New("unexpected payload")
		}
		select {
		case <-gates[i]:
		case <-ctx.Done():
			return oracle.Verdict{}, ctx.Err()
		}
		return oracle.Verdict{Status: oracle.StatusVerified, Reason: fmt.Sprintf("file %d", i)}, nil
	}}
	svc := &Service{Store: feed, Oracle: client, Notifier: &noteRecorder{}, RetryDelay: time.Millisecond}

	snaps, err := feed.Subscribe(ctx, ListOptions{OwnerID: "guest:g1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var mu sync.Mutex
	history := make(map[string][]Status)
	settled := make(chan struct{})
	go func() {
		closed := false
		for snap := range snaps {
			done := len(snap) == n
			mu.Lock()
			for _, rec := range snap {
				h := history[rec.ID]
				if len(h) == 0 || h[len(h)-1] != rec.Status {
					history[rec.ID] = append(h, rec.Status)
				}
				if !rec.Status.Terminal() {
					done = false
				}
			}
			mu.Unlock()
			if done && !closed {
				close(settled)
				closed = true
			}
		}
	}()

	ids := make([]string, n)
	for i, sub := range subs {
		rec, err := svc.Submit(ctx, sub)
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if rec.Status != StatusAnalyzing {
			t.Fatalf("expected analyzing on return, got %s", rec.Status)
		}
		ids[i] = rec.ID
	}
	assertNewestFirst := func(when string) {
		t.Helper()
		listed, err := svc.List(ctx, "guest:g1", 0, 0)
		if err != nil || len(listed) != n {
			t.Fatalf("%s: expected %d records, got %d (%v)", when, n, len(listed), err)
		}
		for k, rec := range listed {
			if rec.ID != ids[n-1-k] {
				t.Fatalf("%s: position %d holds %s, want %s", when, k, rec.FileName, subs[n-1-k].FileName)
			}
		}
	}
	assertNewestFirst("after submit")

	for i := n - 1; i >= 0; i-- {
		close(gates[i])
		deadline := time.Now().Add(2 * time.Second)
		for {
			got, _ := feed.Get(ctx, ids[i])
			if got.Status.Terminal() {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("file %d never reached a terminal status", i)
			}
			time.Sleep(5 * time.Millisecond)
		}
		for j := 0; j < i; j++ {
			if got, _ := feed.Get(ctx, ids[j]); got.Status != StatusAnalyzing {
				t.Fatalf("file %d finished before its verdict was released: %s", j, got.Status)
			}
		}
	}

	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatalf("feed never delivered a fully terminal snapshot")
	}
	assertNewestFirst("after completion")

	mu.Lock()
	defer mu.Unlock()
	for i, id := range ids {
		h := history[id]
		switch {
		case len(h) == 1 && h[0] == StatusVerified:
		case len(h) == 2 && h[0] == StatusAnalyzing && h[1] == StatusVerified:
		default:
			t.Fatalf("file %d went through %v", i, h)
		}
	}
}

func TestSanitizeErrorTruncates(t *testing.T) {
	msg := sanitizeError(errors.New("line one\nline two " + strings.Repeat("x", 600)))
	if len(msg) != 500 || strings.Contains(msg, "\n") {
		t.Fatalf("unexpected sanitized message of length %d", len(msg))
	}
}
