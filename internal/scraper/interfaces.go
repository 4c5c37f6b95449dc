package scraper

import (
	"context"
	"io"
	"time"
)

// Field names a form control the navigator can drive.
type Field string

// Form fields on the land-record page.
const (
	FieldRecordType Field = "record_type"
	FieldDistrict   Field = "district"
	FieldTaluka     Field = "taluka"
	FieldVillage    Field = "village"
	FieldSurvey     Field = "survey"
)

// FormNavigator drives one browser tab through the form. Every error it
// returns should be a *NavError.
type FormNavigator interface {
	Open(ctx context.Context, formURL string) error
	Select(ctx context.Context, field Field, value string) error
	WaitStable(ctx context.Context) error
	CurrentSelection(ctx context.Context, field Field) (string, error)
	Options(ctx context.Context, field Field) ([]Option, error)
	EnterCaptcha(ctx context.Context, text string) error
	Submit(ctx context.Context) error
	RefreshChallenge(ctx context.Context) error
	ReturnToForm(ctx context.Context) error
	Content(ctx context.Context) (string, error)
}

// ChallengeSource captures the captcha image currently shown.
type ChallengeSource interface {
	CaptureChallengeImage(ctx context.Context) ([]byte, error)
}

// Session is an isolated browser identity owned by exactly one worker.
type Session interface {
	FormNavigator
	ChallengeSource
	Close() error
}

// SessionFactory opens sessions. contextIndex groups tabs sharing one
// isolated browser context.
type SessionFactory interface {
	NewSession(ctx context.Context, contextIndex, tabIndex int) (Session, error)
}

// CaptchaSolver turns a challenge image into text. Empty text means no answer.
type CaptchaSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// AnswerForgetter is implemented by solvers that remember answers; the
// worker calls Forget when the form rejects the answer for image.
type AnswerForgetter interface {
	Forget(image []byte)
}

// ResultExtractor parses a result page. It returns nil when the success
// marker is missing.
type ResultExtractor interface {
	Extract(raw string) (*Record, error)
}

// ArtifactStore persists unit output and returns an artifact identifier.
type ArtifactStore interface {
	Save(ctx context.Context, unit WorkUnit, raw RawRecord, record *Record) (string, error)
}

// District, Taluka and Village are reference-data entries.
type (
	District struct {
		Code string
		Name string
	}
	Taluka struct {
		Code string
		Name string
	}
	Village struct {
		Code string
		Name string
	}
)

// ReferenceData is the read-only geographic hierarchy.
type ReferenceData interface {
	District(ctx context.Context, code string) (District, error)
	ListTalukas(ctx context.Context, districtCode string) ([]Taluka, error)
	ListVillages(ctx context.Context, districtCode, talukaCode string) ([]Village, error)
}

// Queue hands out units exactly once.
type Queue interface {
	Next() (WorkUnit, bool)
	Remaining() int
}

// Limiter gates captcha solving calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// ProgressRecorder accepts unit outcomes.
type ProgressRecorder interface {
	Record(success bool)
}

// ResultSink collects finished WorkResults.
type ResultSink interface {
	Collect(result WorkResult)
}

// BlobStore writes opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher sends a JSON payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces hex digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator returns unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
