package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/voiceguard/internal/application"
	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

// MsgCancelled is recorded on a session whose pipeline was cancelled.
const MsgCancelled = "analysis cancelled"

// Observer receives pipeline lifecycle notifications (metrics).
type Observer interface {
	AnalysisStarted()
	AnalysisFinished(failed bool)
}

// Service implements use-cases untuk analysis sessions.
// Service is designed to be used concurrently and is thread-safe.
type Service struct {
	Sessions  domain.SessionStore
	History   domain.Repository
	Audio     domain.AudioStore
	Detector  domain.Detector
	Validator domain.Validator
	Clock     application.Clock
	Events    *Broker
	Observer  Observer

	mu      sync.Mutex
	running map[domain.SessionID]context.CancelFunc
	wg      sync.WaitGroup
}

//
// ==== USE CASES ====
//

// Start creates a new Idle session.
func (s *Service) Start(ctx context.Context, tenant string) (*domain.Session, error) {
	now := s.Clock.Now()
	sess := domain.NewSession(domain.SessionID(uuid.New().String()), tenant)
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Get ambil 1 session by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	return s.Sessions.Get(ctx, tenant, id)
}

// Validate checks file metadata without touching any session.
func (s *Service) Validate(f domain.SelectedFile) error {
	return s.Validator.Validate(f)
}

// Select validates f and offers it to the session. localPath is the
// buffered upload, or empty when only metadata was sent. On rejection the
// session records the message and localPath is removed.
func (s *Service) Select(ctx context.Context, tenant string, id domain.SessionID, f domain.SelectedFile, localPath string) (*domain.Session, error) {
	if verr := s.Validator.Validate(f); verr != nil {
		removeLocal(localPath)
		if _, err := s.update(ctx, tenant, id, func(sess *domain.Session) error {
			return sess.Reject(verr.Error())
		}); err != nil {
			return nil, err
		}
		return nil, verr
	}

	var previous string
	sess, err := s.update(ctx, tenant, id, func(sess *domain.Session) error {
		previous = sess.LocalPath()
		return sess.Select(f, localPath)
	})
	if err != nil {
		removeLocal(localPath)
		return nil, err
	}
	if previous != localPath {
		removeLocal(previous)
	}
	return sess, nil
}

// Remove clears the selected file.
func (s *Service) Remove(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	var previous string
	sess, err := s.update(ctx, tenant, id, func(sess *domain.Session) error {
		previous = sess.LocalPath()
		return sess.Remove()
	})
	if err != nil {
		return nil, err
	}
	removeLocal(previous)
	return sess, nil
}

// Reset returns a finished session to Idle, discarding file and result.
func (s *Service) Reset(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	var previous string
	sess, err := s.update(ctx, tenant, id, func(sess *domain.Session) error {
		previous = sess.LocalPath()
		return sess.Reset()
	})
	if err != nil {
		return nil, err
	}
	removeLocal(previous)
	s.publish(sess)
	return sess, nil
}

// Analyze moves the session to Uploading and runs the pipeline in the
// background until done. started is false when no file is selected, in
// which case the session is returned unchanged.
func (s *Service) Analyze(ctx context.Context, tenant string, id domain.SessionID) (sess *domain.Session, started bool, err error) {
	sess, started, err = s.begin(ctx, tenant, id)
	if err != nil || !started {
		return sess, started, err
	}

	// jalanin dengan context.Background() supaya gak kena context canceled
	runCtx, cancel := context.WithCancel(context.Background())
	s.track(id, cancel)
	s.wg.Add(1)
	go func(snapshot *domain.Session) {
		defer s.wg.Done()
		defer s.untrack(id)
		if _, err := s.run(runCtx, snapshot); err != nil {
			log.Printf("analysis failed: tenant=%s session=%s err=%v", tenant, id, err)
		}
	}(sess.Clone())

	return sess, true, nil
}

// Run is the blocking form of Analyze. The returned session is in its
// final state (Complete, or Idle after a failure).
func (s *Service) Run(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	sess, started, err := s.begin(ctx, tenant, id)
	if err != nil || !started {
		return sess, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.track(id, cancel)
	defer s.untrack(id)
	return s.run(runCtx, sess)
}

// Cancel stops a running pipeline. It reports false when nothing was running.
func (s *Service) Cancel(ctx context.Context, tenant string, id domain.SessionID) (bool, error) {
	sess, err := s.Sessions.Get(ctx, tenant, id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	cancel, ok := s.running[sess.ID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok, nil
}

// Wait blocks until every background pipeline has returned.
func (s *Service) Wait() { s.wg.Wait() }

// Shutdown cancels all running pipelines and waits for them.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Recent ambil N analysis terakhir untuk dashboard
func (s *Service) Recent(ctx context.Context, tenant string, limit int) ([]*domain.Analysis, error) {
	return s.History.Latest(ctx, tenant, limit)
}

// Summary rekap hasil analysis N hari terakhir
func (s *Service) Summary(ctx context.Context, tenant string, sinceDays int) (domain.Summary, error) {
	return s.History.Summary(ctx, tenant, sinceDays)
}

//
// ==== PIPELINE ====
//

func (s *Service) begin(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, bool, error) {
	var started bool
	sess, err := s.update(ctx, tenant, id, func(sess *domain.Session) error {
		ok, err := sess.BeginUpload()
		started = ok
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if started {
		s.publish(sess)
		if s.Observer != nil {
			s.Observer.AnalysisStarted()
		}
	}
	return sess, started, nil
}

// run: upload rekaman → detect → simpan ke history
func (s *Service) run(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	tenant, id := sess.TenantID, sess.ID
	start := s.Clock.Now()

	record := &domain.Analysis{
		ID:         id,
		TenantID:   tenant,
		FileName:   sess.File.Name,
		SizeBytes:  sess.File.Size,
		MediaType:  sess.File.MediaType,
		Status:     domain.RecordProcessing,
		UploadedAt: start,
	}
	s.saveRecord(ctx, record)

	url, err := s.upload(ctx, sess)
	if err != nil {
		// buffered copy stays on disk for a retry
		return s.fail(ctx, record, fmt.Errorf("upload: %w", err))
	}

	analyzing, err := s.update(ctx, tenant, id, func(cur *domain.Session) error {
		return cur.BeginAnalysis(url)
	})
	if err != nil {
		return s.fail(ctx, record, err)
	}
	s.publish(analyzing)
	record.ObjectURL = url

	result, err := s.Detector.Detect(ctx, domain.DetectRequest{File: *sess.File, ObjectURL: url})
	if err != nil {
		return s.fail(ctx, record, fmt.Errorf("detect: %w", err))
	}

	done, err := s.update(ctx, tenant, id, func(cur *domain.Session) error {
		return cur.Complete(result)
	})
	if err != nil {
		return s.fail(ctx, record, err)
	}
	s.publish(done)

	record.Status = domain.RecordCompleted
	record.RiskScore = result.RiskScore
	record.Confidence = result.Confidence
	record.Duration = result.Duration
	record.AnalysisMS = s.Clock.Now().Sub(start).Milliseconds()
	s.saveRecord(ctx, record)

	if s.Observer != nil {
		s.Observer.AnalysisFinished(false)
	}
	log.Printf("analysis complete: tenant=%s session=%s score=%d band=%s",
		tenant, id, result.RiskScore, domain.BandFor(result.RiskScore))
	return done, nil
}

// upload sends the buffered recording to the store. A file that already
// reached the store on an earlier attempt (local copy gone, object URL kept)
// is not uploaded again.
func (s *Service) upload(ctx context.Context, sess *domain.Session) (string, error) {
	if sess.LocalPath() == "" && sess.ObjectURL != "" {
		log.Printf("analysis reuses upload: tenant=%s session=%s url=%s", sess.TenantID, sess.ID, sess.ObjectURL)
		return sess.ObjectURL, nil
	}
	key := fmt.Sprintf("%s/%s/%s", sess.TenantID, sess.ID, filepath.Base(sess.File.Name))
	url, err := s.Audio.UploadAndCleanup(ctx, sess.LocalPath(), key)
	if err != nil {
		return "", err
	}
	log.Printf("analysis uploaded: tenant=%s session=%s url=%s", sess.TenantID, sess.ID, url)
	return url, nil
}

func (s *Service) fail(ctx context.Context, record *domain.Analysis, cause error) (*domain.Session, error) {
	msg := cause.Error()
	if errors.Is(ctx.Err(), context.Canceled) {
		msg = MsgCancelled
		cause = fmt.Errorf("%s: %w", MsgCancelled, context.Canceled)
	}

	if s.Observer != nil {
		s.Observer.AnalysisFinished(true)
	}
	record.Status = domain.RecordFailed
	record.AnalysisMS = s.Clock.Now().Sub(record.UploadedAt).Milliseconds()
	s.saveRecord(ctx, record)

	sess, err := s.update(context.WithoutCancel(ctx), record.TenantID, record.ID, func(cur *domain.Session) error {
		return cur.Fail(msg)
	})
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	s.publish(sess)
	return sess, cause
}

func (s *Service) saveRecord(ctx context.Context, a *domain.Analysis) {
	if s.History == nil {
		return
	}
	if err := s.History.Save(context.WithoutCancel(ctx), a); err != nil {
		log.Printf("history save error: tenant=%s session=%s status=%s err=%v", a.TenantID, a.ID, a.Status, err)
	}
}

func (s *Service) update(ctx context.Context, tenant string, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	return s.Sessions.Update(ctx, tenant, id, func(sess *domain.Session) error {
		if err := fn(sess); err != nil {
			return err
		}
		sess.UpdatedAt = s.Clock.Now()
		return nil
	})
}

func (s *Service) publish(sess *domain.Session) {
	s.Events.Publish(Event{
		SessionID: sess.ID,
		Status:    sess.Status,
		Result:    sess.Result,
		Error:     sess.Error,
		At:        sess.UpdatedAt,
	})
}

func (s *Service) track(id domain.SessionID, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[domain.SessionID]context.CancelFunc)
	}
	s.running[id] = cancel
}

func (s *Service) untrack(id domain.SessionID) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// helper
func removeLocal(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: failed to remove local file %s: %v", path, err)
	}
}
