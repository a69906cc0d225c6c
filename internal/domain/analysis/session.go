package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionBusy       = errors.New("session is busy")
	ErrInvalidTransition = errors.New("invalid transition")
)

// NewSession returns an Idle session.
func NewSession(id SessionID, tenant string) *Session {
	return &Session{ID: id, TenantID: tenant, Status: StatusIdle}
}

// Select offers a validated file. Any earlier result or error is dropped.
func (s *Session) Select(f SelectedFile, localPath string) error {
	if err := s.requireIdle("select"); err != nil {
		return err
	}
	file := f
	s.File = &file
	s.localPath = localPath
	s.Result = nil
	s.Error = ""
	s.ObjectURL = ""
	return nil
}

// Reject records a validation failure. The current file is kept.
func (s *Session) Reject(msg string) error {
	if err := s.requireIdle("select"); err != nil {
		return err
	}
	s.Error = msg
	return nil
}

// Remove clears the selected file.
func (s *Session) Remove() error {
	if err := s.requireIdle("remove"); err != nil {
		return err
	}
	s.File = nil
	s.localPath = ""
	s.Error = ""
	return nil
}

// BeginUpload moves Idle to Uploading. Without a file it is a no-op and
// reports false.
func (s *Session) BeginUpload() (bool, error) {
	if err := s.requireIdle("analyze"); err != nil {
		return false, err
	}
	if s.File == nil {
		return false, nil
	}
	s.Status = StatusUploading
	s.Error = ""
	return true, nil
}

// BeginAnalysis moves Uploading to Analyzing.
func (s *Session) BeginAnalysis(objectURL string) error {
	if s.Status != StatusUploading {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusAnalyzing)
	}
	s.Status = StatusAnalyzing
	s.ObjectURL = objectURL
	s.localPath = ""
	return nil
}

// Complete stores the result and moves Analyzing to Complete.
func (s *Session) Complete(r Result) error {
	if s.Status != StatusAnalyzing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusComplete)
	}
	res := r.clone()
	s.Result = &res
	s.Status = StatusComplete
	return nil
}

// Fail returns a running session to Idle with its file kept and no result.
func (s *Session) Fail(msg string) error {
	if !s.Status.Busy() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusIdle)
	}
	s.Status = StatusIdle
	s.Result = nil
	s.Error = msg
	return nil
}

// Reset discards file, result and error and returns to Idle.
func (s *Session) Reset() error {
	if s.Status.Busy() {
		return fmt.Errorf("%w: cannot reset while %s", ErrSessionBusy, s.Status)
	}
	s.Status = StatusIdle
	s.File = nil
	s.localPath = ""
	s.Result = nil
	s.Error = ""
	s.ObjectURL = ""
	return nil
}

func (s *Session) requireIdle(op string) error {
	switch s.Status {
	case StatusIdle:
		return nil
	case StatusUploading, StatusAnalyzing:
		return fmt.Errorf("%w: cannot %s while %s", ErrSessionBusy, op, s.Status)
	default:
		return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, s.Status)
	}
}
