package submissions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vriksha-code/verisure/internal/datauri"
	"github.com/vriksha-code/verisure/internal/extract"
	"github.com/vriksha-code/verisure/internal/notify"
	"github.com/vriksha-code/verisure/internal/oracle"
	"github.com/vriksha-code/verisure/internal/queue"
	"github.com/vriksha-code/verisure/internal/shared/metrics"
	"github.com/vriksha-code/verisure/internal/shared/storage/object"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

const (
	ReasonAnalysisFailed = "An error occurred during analysis."
	ReasonStorageFailed  = "could not store the uploaded file"
	ReasonQueueFailed    = "could not schedule the verification"
	ReasonManualReview   = "file type requires manual verification"
)

const defaultBatchLimit = 4

// Service runs the upload-and-verify workflow.
type Service struct {
	Store    Store
	Oracle   oracle.Client
	Blobs    object.ObjectStore
	Notifier notify.Notifier
	Queue    queue.Client
	Inspect  extract.Inspector

	OracleTimeout time.Duration
	RetryDelay    time.Duration
	// InlinePayload keeps the data URI on the record even when a blob store holds the bytes.
	InlinePayload bool
	// Sync completes verification before Submit returns.
	Sync       bool
	BatchLimit int
}

// job is one submission between encoding and its terminal update.
type job struct {
	rec       Record
	mediaType string
	data      []byte
	payload   string
}

// Submit validates, creates the record and starts verification.
func (s *Service) Submit(ctx context.Context, sub Submission) (Record, error) {
	n, err := s.check(sub)
	if err != nil {
		return Record{}, err
	}
	j, err := s.start(ctx, sub, n)
	if err != nil {
		return Record{}, err
	}
	if err := s.dispatch(ctx, j); err != nil {
		return Record{}, err
	}
	// Inline and queued dispatch have already written to the store.
	if s.Sync || s.Queue != nil {
		return s.refresh(ctx, j.rec), nil
	}
	return j.rec, nil
}

// SubmitBatch creates every record in submission order before verifying any
// of them, so the listing reflects the order the files were given in. Files
// that cannot be read are dropped from the result.
func (s *Service) SubmitBatch(ctx context.Context, subs []Submission) ([]Record, error) {
	if len(subs) == 0 {
		return nil, &ValidationError{Field: "files", Message: "at least one file is required"}
	}
	checked := make([]normalized, len(subs))
	for i, sub := range subs {
		n, err := s.check(sub)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, &ValidationError{Field: fmt.Sprintf("files[%d].%s", i, verr.Field), Message: verr.Message}
			}
			return nil, err
		}
		checked[i] = n
	}

	recs := make([]Record, len(subs))
	for i, sub := range subs {
		rec, err := s.create(ctx, sub, checked[i])
		if err != nil {
			s.abandon(ctx, recs[:i])
			return nil, err
		}
		recs[i] = rec
	}

	jobs := make([]job, 0, len(subs))
	out := make([]Record, 0, len(subs))
	for i, sub := range subs {
		j, err := s.encode(ctx, recs[i], checked[i].mediaType, sub.Body)
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
		out = append(out, recs[i])
	}

	run := func(ctx context.Context) {
		g, gctx := errgroup.WithContext(ctx)
		limit := s.BatchLimit
		if limit <= 0 {
			limit = defaultBatchLimit
		}
		g.SetLimit(limit)
		for _, j := range jobs {
			j := j
			g.Go(func() error {
				if err := s.dispatchSync(gctx, j); err != nil {
					telemetry.Error("submission.batch.dispatch_failed", map[string]any{
						"request_id":    requestIDFromContext(gctx),
						"submission_id": j.rec.ID,
						"err":           err,
					})
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	if s.Sync {
		run(ctx)
		for i := range out {
			out[i] = s.refresh(ctx, out[i])
		}
		return out, nil
	}
	go run(backgroundWithRequestID(ctx))
	return out, nil
}

// abandon retracts stubs of a batch that could not be fully created. A stub
// that cannot be removed is failed instead, so none stays non-terminal.
func (s *Service) abandon(ctx context.Context, recs []Record) {
	for _, rec := range recs {
		err := s.Store.Remove(ctx, rec.ID)
		if err == nil || errors.Is(err, ErrNotFound) {
			telemetry.Info("submission.batch.abandoned", map[string]any{
				"request_id":    requestIDFromContext(ctx),
				"submission_id": rec.ID,
			})
			continue
		}
		telemetry.Error("submission.remove.failed", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": rec.ID,
			"err":           sanitizeError(err),
		})
		s.fail(ctx, rec, ReasonStorageFailed, ErrorCodeStorage, true, uploadErrorNote)
	}
}

// Process verifies a record created earlier; it is the worker entry point.
// Terminal and missing records are skipped.
func (s *Service) Process(ctx context.Context, id string) error {
	rec, err := s.Store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		telemetry.Warn("submission.update.not_found", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": id,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load submission %s: %w", id, err)
	}
	if rec.Status.Terminal() {
		telemetry.Info("submission.process.skip", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": id,
			"status":        rec.Status,
		})
		return nil
	}
	defer s.recoverInto(ctx, rec)

	j, err := s.reload(ctx, rec)
	if err != nil {
		s.fail(ctx, rec, ReasonAnalysisFailed, ErrorCodeStorage, true, analysisErrorNote)
		return nil
	}
	s.verify(ctx, j)
	return nil
}

// Retract removes an owner's record and its blob.
func (s *Service) Retract(ctx context.Context, ownerID, id string) error {
	rec, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.Store.Remove(ctx, id); err != nil {
		return err
	}
	if rec.StorageKey != "" && s.Blobs != nil {
		if err := s.Blobs.Delete(ctx, rec.StorageKey); err != nil && !errors.Is(err, object.ErrNotFound) {
			telemetry.Warn("submission.retract.blob_delete_failed", map[string]any{
				"submission_id": id,
				"err":           sanitizeError(err),
			})
		}
	}
	telemetry.Info("submission.retracted", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"submission_id": id,
		"owner_id":      ownerID,
		"status":        rec.Status,
	})
	return nil
}

// Get returns one of ownerID's records. Records of other owners are reported
// as not found.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Record, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if ownerID != "" && rec.OwnerID != ownerID {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns ownerID's records, newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]Record, error) {
	return s.Store.List(ctx, ListOptions{OwnerID: ownerID, Limit: limit, Offset: offset})
}

// Subscribe streams ownerID's listing if the store supports subscriptions.
func (s *Service) Subscribe(ctx context.Context, ownerID string) (<-chan []Record, error) {
	sub, ok := s.Store.(Subscriber)
	if !ok {
		return nil, errors.New("record store does not support subscriptions")
	}
	return sub.Subscribe(ctx, ListOptions{OwnerID: ownerID})
}

func (s *Service) check(sub Submission) (normalized, error) {
	n, err := validateSubmission(sub)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			metrics.IncSubmissionInvalid(verr.Field)
		}
		return normalized{}, err
	}
	return n, nil
}

func (s *Service) start(ctx context.Context, sub Submission, n normalized) (job, error) {
	rec, err := s.create(ctx, sub, n)
	if err != nil {
		return job{}, err
	}
	return s.encode(ctx, rec, n.mediaType, sub.Body)
}

func (s *Service) create(ctx context.Context, sub Submission, n normalized) (Record, error) {
	status := StatusAnalyzing
	if s.Blobs != nil {
		status = StatusPending
	}
	rec, err := s.Store.Create(ctx, Stub{
		OwnerID:          strings.TrimSpace(sub.OwnerID),
		FileName:         strings.TrimSpace(sub.FileName),
		FileType:         n.mediaType,
		FileSizeBytes:    sub.Size,
		DocumentType:     n.documentType,
		VerificationTask: n.task,
		SubmittedBy:      strings.TrimSpace(sub.SubmittedBy),
		Status:           status,
	})
	if err != nil {
		return Record{}, fmt.Errorf("create submission: %w", err)
	}
	metrics.IncSubmissionCreated(string(n.documentType))
	telemetry.Info("submission.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"submission_id":     rec.ID,
		"owner_id":          rec.OwnerID,
		"document_type":     rec.DocumentType,
		"file_size":         FormatBytes(rec.FileSizeBytes),
		"status":            rec.Status,
		"status_transition": "->" + string(rec.Status),
	})
	return rec, nil
}

// encode reads the upload into a data URI. A read failure retracts the stub.
func (s *Service) encode(ctx context.Context, rec Record, mediaType string, body io.Reader) (job, error) {
	var raw bytes.Buffer
	limited := &io.LimitedReader{R: body, N: MaxUploadBytes + 1}
	payload, err := datauri.Encode(mediaType, io.TeeReader(limited, &raw))
	if err == nil && limited.N <= 0 {
		err = &datauri.ReadError{Err: fmt.Errorf("upload exceeds %d bytes", MaxUploadBytes)}
	}
	if err != nil {
		if rmErr := s.Store.Remove(ctx, rec.ID); rmErr != nil && !errors.Is(rmErr, ErrNotFound) {
			telemetry.Error("submission.remove.failed", map[string]any{
				"request_id":    requestIDFromContext(ctx),
				"submission_id": rec.ID,
				"err":           sanitizeError(rmErr),
			})
		}
		telemetry.Warn("submission.read_failed", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": rec.ID,
			"owner_id":      rec.OwnerID,
			"err":           sanitizeError(err),
		})
		s.notify(ctx, rec, fileErrorNote)
		return job{}, err
	}
	return job{rec: rec, mediaType: mediaType, data: raw.Bytes(), payload: payload}, nil
}

// dispatch hands the job to the queue, completes it inline or starts it in
// the background.
func (s *Service) dispatch(ctx context.Context, j job) error {
	if s.Queue != nil || s.Sync {
		return s.dispatchSync(ctx, j)
	}
	go s.complete(backgroundWithRequestID(ctx), j)
	return nil
}

func (s *Service) dispatchSync(ctx context.Context, j job) error {
	if s.Queue == nil {
		s.complete(ctx, j)
		return nil
	}
	if !s.persist(ctx, &j) {
		return nil
	}
	msg := queue.Message{
		SubmissionID: j.rec.ID,
		RequestID:    requestIDFromContext(ctx),
		EnqueuedAt:   time.Now().UTC().Format(time.RFC3339),
		Version:      queue.MessageVersion,
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		telemetry.Error("submission.enqueue_failed", map[string]any{
			"request_id":    msg.RequestID,
			"submission_id": j.rec.ID,
			"err":           sanitizeError(err),
		})
		s.fail(ctx, j.rec, ReasonQueueFailed, ErrorCodeQueue, true, analysisErrorNote)
	}
	return nil
}

func (s *Service) complete(ctx context.Context, j job) {
	defer s.recoverInto(ctx, j.rec)
	if !s.persist(ctx, &j) {
		return
	}
	s.verify(ctx, j)
}

func (s *Service) recoverInto(ctx context.Context, rec Record) {
	if r := recover(); r != nil {
		telemetry.Error("submission.panic", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": rec.ID,
			"panic":         fmt.Sprint(r),
		})
		s.fail(ctx, rec, ReasonAnalysisFailed, ErrorCodeInternal, false, analysisErrorNote)
	}
}

// persist stores the raw bytes and the payload reference. It reports false
// when the record reached a terminal state or disappeared.
func (s *Service) persist(ctx context.Context, j *job) bool {
	var p Patch
	var saved object.Object
	if s.Blobs != nil {
		obj, err := s.Blobs.Save(ctx, j.rec.OwnerID, j.rec.FileName, j.mediaType, bytes.NewReader(j.data))
		if err != nil {
			telemetry.Error("submission.blob.save_failed", map[string]any{
				"request_id":    requestIDFromContext(ctx),
				"submission_id": j.rec.ID,
				"err":           sanitizeError(err),
			})
			s.fail(ctx, j.rec, ReasonStorageFailed, ErrorCodeStorage, true, uploadErrorNote)
			return false
		}
		saved = obj
		url := s.Blobs.URL(obj.Key)
		p.StorageKey = &obj.Key
		p.DocumentURL = &url
	}
	if s.InlinePayload || s.Blobs == nil {
		p.DocumentPayload = &j.payload
	}
	analyzing := StatusAnalyzing
	p.Status = &analyzing

	from := j.rec.Status
	rec, err := s.Store.Update(ctx, j.rec.ID, p)
	if err != nil {
		s.discardBlob(ctx, saved.Key)
		if errors.Is(err, ErrNotFound) {
			s.logNotFound(ctx, j.rec.ID)
			return false
		}
		telemetry.Error("submission.persist_failed", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": j.rec.ID,
			"err":           sanitizeError(err),
		})
		s.fail(ctx, j.rec, ReasonStorageFailed, ErrorCodeStorage, true, uploadErrorNote)
		return false
	}
	j.rec = rec
	if from != rec.Status {
		s.logTransition(ctx, rec, from)
	}
	return true
}

func (s *Service) discardBlob(ctx context.Context, key string) {
	if key == "" || s.Blobs == nil {
		return
	}
	if err := s.Blobs.Delete(ctx, key); err != nil && !errors.Is(err, object.ErrNotFound) {
		telemetry.Warn("submission.blob.delete_failed", map[string]any{
			"request_id":  requestIDFromContext(ctx),
			"storage_key": key,
			"err":         sanitizeError(err),
		})
	}
}

// verify obtains the outcome and applies it as one update.
func (s *Service) verify(ctx context.Context, j job) {
	if !isImage(j.mediaType) {
		p := VerdictPatch(StatusRequiresManualReview, ReasonManualReview, nil)
		if pages := s.pageCount(ctx, j); pages > 0 {
			p.PageCount = &pages
		}
		s.finish(ctx, j.rec, p)
		return
	}

	client := s.Oracle
	if client == nil {
		client = oracle.PlaceholderClient{}
	}
	timeout := s.OracleTimeout
	if timeout <= 0 {
		timeout = oracle.DefaultTimeout
	}
	client = newRetryingOracle(oracle.WithTimeout(client, timeout), s.RetryDelay, j.rec.ID, requestIDFromContext(ctx))

	verdict, err := client.Verify(ctx, oracle.Request{
		Payload:      j.payload,
		DocumentType: j.rec.DocumentType,
		Task:         j.rec.VerificationTask,
	})
	if err == nil {
		if verr := verdict.Validate(); verr != nil {
			err = &oracle.Error{Kind: oracle.KindMalformed, Err: verr}
		}
	}
	if err != nil {
		code, retryable := classifyFailure(err)
		telemetry.Warn("submission.oracle_failed", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": j.rec.ID,
			"failure_code":  code,
			"retryable":     retryable,
			"err":           sanitizeError(err),
		})
		s.fail(ctx, j.rec, ReasonAnalysisFailed, code, retryable, analysisErrorNote)
		return
	}
	s.finish(ctx, j.rec, VerdictPatch(Status(verdict.Status), verdict.Reason, verdict.ConfidenceScore))
}

func (s *Service) pageCount(ctx context.Context, j job) int {
	inspect := s.Inspect
	if inspect == nil {
		inspect = extract.Inspect
	}
	rep, err := inspect(ctx, j.data, j.mediaType, j.rec.FileName)
	if err != nil {
		telemetry.Debug("submission.inspect_skipped", map[string]any{
			"submission_id": j.rec.ID,
			"media_type":    j.mediaType,
			"err":           sanitizeError(err),
		})
	}
	return rep.PageCount
}

// finish applies a verdict. If the store refuses the update the record is
// still driven to a terminal failure.
func (s *Service) finish(ctx context.Context, rec Record, p Patch) {
	updated, err := s.Store.Update(ctx, rec.ID, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logNotFound(ctx, rec.ID)
			return
		}
		telemetry.Error("submission.update.failed", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": rec.ID,
			"err":           sanitizeError(err),
		})
		s.fail(ctx, rec, ReasonAnalysisFailed, ErrorCodeStorage, true, analysisErrorNote)
		return
	}
	metrics.IncVerdict(string(updated.Status))
	s.logTransition(ctx, updated, rec.Status)
}

// fail moves rec to Rejected with a failure code and sends at most one
// notification.
func (s *Service) fail(ctx context.Context, rec Record, reason, code string, retryable bool, note notify.Notification) {
	updated, err := s.Store.Update(ctx, rec.ID, FailurePatch(reason, code, retryable))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logNotFound(ctx, rec.ID)
			return
		}
		telemetry.Error("submission.fail.update_failed", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"submission_id": rec.ID,
			"failure_code":  code,
			"err":           sanitizeError(err),
		})
		return
	}
	metrics.IncFailure(code)
	s.logTransition(ctx, updated, rec.Status)
	s.notify(ctx, updated, note)
}

func (s *Service) notify(ctx context.Context, rec Record, note notify.Notification) {
	if s.Notifier == nil {
		return
	}
	note.OwnerID = rec.OwnerID
	note.SubmissionID = rec.ID
	s.Notifier.Notify(ctx, note)
}

// reload rebuilds a job from what persist stored.
func (s *Service) reload(ctx context.Context, rec Record) (job, error) {
	j := job{rec: rec, mediaType: rec.FileType}
	if rec.DocumentPayload != "" {
		doc, err := datauri.Decode(rec.DocumentPayload)
		if err != nil {
			return job{}, fmt.Errorf("decode payload: %w", err)
		}
		j.data = doc.Data
		j.payload = rec.DocumentPayload
		return j, nil
	}
	if rec.StorageKey == "" || s.Blobs == nil {
		return job{}, errors.New("submission has no stored document")
	}
	body, err := s.Blobs.Open(ctx, rec.StorageKey)
	if err != nil {
		return job{}, fmt.Errorf("open document %s: %w", rec.StorageKey, err)
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, MaxUploadBytes+1))
	if err != nil {
		return job{}, fmt.Errorf("read document %s: %w", rec.StorageKey, err)
	}
	j.data = data
	j.payload = datauri.EncodeBytes(rec.FileType, data)
	return j, nil
}

func (s *Service) refresh(ctx context.Context, rec Record) Record {
	latest, err := s.Store.Get(ctx, rec.ID)
	if err != nil {
		return rec
	}
	return latest
}

func (s *Service) logNotFound(ctx context.Context, id string) {
	telemetry.Warn("submission.update.not_found", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"submission_id": id,
	})
}

func (s *Service) logTransition(ctx context.Context, rec Record, from Status) {
	fields := map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"submission_id":     rec.ID,
		"owner_id":          rec.OwnerID,
		"status":            rec.Status,
		"status_transition": string(from) + "->" + string(rec.Status),
	}
	if rec.FailureCode != "" {
		fields["failure_code"] = rec.FailureCode
		fields["retryable"] = rec.Retryable
	}
	if rec.ConfidenceScore != nil {
		fields["confidence"] = *rec.ConfidenceScore
	}
	telemetry.Info("submission.status", fields)
}

var (
	fileErrorNote = notify.Notification{
		Title:       "File Error",
		Description: "Could not read the uploaded file.",
		Variant:     notify.VariantDestructive,
	}
	uploadErrorNote = notify.Notification{
		Title:       "Upload Error",
		Description: "Could not store the uploaded file. Please try again.",
		Variant:     notify.VariantDestructive,
	}
	analysisErrorNote = notify.Notification{
		Title:       "Analysis Error",
		Description: "Could not analyze the document. Please try again.",
		Variant:     notify.VariantDestructive,
	}
)

// classifyFailure maps an oracle failure to (failureCode, retryable).
func classifyFailure(err error) (string, bool) {
	oe, ok := oracle.AsError(err)
	if !ok {
		return ErrorCodeInternal, false
	}
	switch oe.Kind {
	case oracle.KindTimeout:
		return ErrorCodeOracleTimeout, true
	case oracle.KindTransport:
		return ErrorCodeOracleUnavailable, true
	case oracle.KindUnavailable:
		return ErrorCodeOracleUnavailable, false
	case oracle.KindMalformed:
		return ErrorCodeOracleMalformed, false
	default:
		return ErrorCodeOracle, false
	}
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
