package analysis_test

import (
	"errors"
	"testing"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

const mib = 1024 * 1024

func TestValidator_Validate(t *testing.T) {
	v := domain.NewValidator(0, nil)

	tests := []struct {
		name    string
		file    domain.SelectedFile
		wantErr error
		wantMsg string
	}{
		{name: "mpeg", file: domain.SelectedFile{Name: "a.mp3", Size: 2 * mib, MediaType: "audio/mpeg"}},
		{name: "wav", file: domain.SelectedFile{Name: "a.wav", Size: 10 * mib, MediaType: "audio/wav"}},
		{name: "mp3 alias", file: domain.SelectedFile{Name: "a.mp3", Size: 1, MediaType: "audio/mp3"}},
		{name: "x-wav", file: domain.SelectedFile{Name: "a.wav", Size: 1, MediaType: "audio/x-wav"}},
		{name: "empty file", file: domain.SelectedFile{Name: "a.wav", Size: 0, MediaType: "audio/wav"}},
		{name: "exactly max", file: domain.SelectedFile{Name: "a.wav", Size: 50 * mib, MediaType: "audio/wav"}},
		{
			name:    "one byte over",
			file:    domain.SelectedFile{Name: "a.mp3", Size: 50*mib + 1, MediaType: "audio/mpeg"},
			wantErr: domain.ErrTooLarge,
			wantMsg: "File size must be less than 50MB",
		},
		{
			name:    "ogg",
			file:    domain.SelectedFile{Name: "a.ogg", Size: 1, MediaType: "audio/ogg"},
			wantErr: domain.ErrUnsupportedType,
			wantMsg: "Please upload an MP3 or WAV file",
		},
		{
			name:    "membership is exact",
			file:    domain.SelectedFile{Name: "a.wav", Size: 1, MediaType: "Audio/WAV; codecs=1"},
			wantErr: domain.ErrUnsupportedType,
			wantMsg: "Please upload an MP3 or WAV file",
		},
		{
			name:    "missing type",
			file:    domain.SelectedFile{Name: "a.wav", Size: 1},
			wantErr: domain.ErrUnsupportedType,
			wantMsg: "Please upload an MP3 or WAV file",
		},
		{
			name:    "type checked before size",
			file:    domain.SelectedFile{Name: "a.flac", Size: 80 * mib, MediaType: "audio/flac"},
			wantErr: domain.ErrUnsupportedType,
			wantMsg: "Please upload an MP3 or WAV file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.file)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", verr.Message, tt.wantMsg)
			}
		})
	}
}

func TestValidator_CustomLimit(t *testing.T) {
	v := domain.NewValidator(5, []string{"audio/wav"})

	err := v.Validate(domain.SelectedFile{Name: "a.wav", Size: 6 * mib, MediaType: "audio/wav"})
	if err == nil || err.Error() != "File size must be less than 5MB" {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.Validate(domain.SelectedFile{Name: "a.mp3", Size: 1, MediaType: "audio/mpeg"}); !errors.Is(err, domain.ErrUnsupportedType) {
		t.Fatalf("mpeg should be rejected by a wav-only list, got %v", err)
	}
	if v.MaxBytes() != 5*mib {
		t.Errorf("MaxBytes = %d", v.MaxBytes())
	}
}

func TestValidationError_Code(t *testing.T) {
	v := domain.NewValidator(1, nil)

	var verr *domain.ValidationError
	errors.As(v.Validate(domain.SelectedFile{MediaType: "video/mp4"}), &verr)
	if verr == nil || verr.Code() != "unsupported_type" {
		t.Fatalf("code = %v", verr)
	}
	errors.As(v.Validate(domain.SelectedFile{MediaType: "audio/wav", Size: 2 * mib}), &verr)
	if verr.Code() != "too_large" {
		t.Fatalf("code = %q", verr.Code())
	}
}
