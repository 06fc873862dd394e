// Package normalize converts heterogeneous uploaded artifacts into plain
// text plus source metadata. It persists nothing.
package normalize

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/companionkit/memoryengine/internal/model"
)

// Transcriber is the external speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Captioner is the external image-captioning collaborator.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// NormalizedText is the output of normalization.
type NormalizedText struct {
	Text       string
	SourceType model.SourceType
}

// RetryPolicy bounds external collaborator calls.
type RetryPolicy struct {
	MaxAttempts    int
	Base           time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is 3 attempts, 200ms base, factor 2.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	Base:           200 * time.Millisecond,
	AttemptTimeout: 30 * time.Second,
}

// Normalizer validates artifacts against their declared source type and
// produces cleaned plain text.
type Normalizer struct {
	maxBytes    int
	transcriber Transcriber
	captioner   Captioner
	retry       RetryPolicy
}

// New creates a Normalizer. transcriber and captioner may be nil when
// the deployment does not accept voice/photo artifacts.
func New(maxBytes int, transcriber Transcriber, captioner Captioner, retry RetryPolicy) *Normalizer {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}
	return &Normalizer{
		maxBytes:    maxBytes,
		transcriber: transcriber,
		captioner:   captioner,
		retry:       retry,
	}
}

// Normalize converts raw artifact bytes into normalized text. It fails
// with ErrUnsupportedFormat when the declared type and content disagree,
// ErrSizeLimitExceeded over the byte ceiling, and a TransientServiceError
// when a delegated call exhausts its retries.
func (n *Normalizer) Normalize(ctx context.Context, artifact []byte, declared model.SourceType) (*NormalizedText, error) {
	if len(artifact) == 0 {
		return nil, &model.ValidationError{Field: "artifact", Reason: "artifact is empty"}
	}
	if n.maxBytes > 0 && len(artifact) > n.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes over %d ceiling", model.ErrSizeLimitExceeded, len(artifact), n.maxBytes)
	}
	if !model.ValidSourceTypes[declared] {
		return nil, &model.ValidationError{Field: "source_type", Reason: "unknown source type " + string(declared)}
	}

	sniffed := http.DetectContentType(artifact)

	var text string
	var err error
	switch declared {
	case model.SourceText, model.SourceChat:
		if !isTextual(sniffed, artifact) {
			return nil, fmt.Errorf("%w: declared %s but content is %s", model.ErrUnsupportedFormat, declared, sniffed)
		}
		text = cleanText(string(artifact))
		if declared == model.SourceChat {
			text = cleanChatExport(text)
		}
	case model.SourceVoice:
		if strings.HasPrefix(sniffed, "text/") || strings.HasPrefix(sniffed, "image/") {
			return nil, fmt.Errorf("%w: declared voice but content is %s", model.ErrUnsupportedFormat, sniffed)
		}
		if n.transcriber == nil {
			return nil, fmt.Errorf("%w: no transcription service configured", model.ErrUnsupportedFormat)
		}
		text, err = n.callExternal(ctx, "transcription", func(ctx context.Context) (string, error) {
			return n.transcriber.Transcribe(ctx, artifact)
		})
		if err != nil {
			return nil, err
		}
		text = cleanText(text)
	case model.SourcePhoto:
		if !strings.HasPrefix(sniffed, "image/") {
			return nil, fmt.Errorf("%w: declared photo but content is %s", model.ErrUnsupportedFormat, sniffed)
		}
		if n.captioner == nil {
			return nil, fmt.Errorf("%w: no captioning service configured", model.ErrUnsupportedFormat)
		}
		text, err = n.callExternal(ctx, "captioning", func(ctx context.Context) (string, error) {
			return n.captioner.Caption(ctx, artifact)
		})
		if err != nil {
			return nil, err
		}
		text = cleanText(text)
	}

	return &NormalizedText{Text: text, SourceType: declared}, nil
}

// callExternal runs a collaborator call under bounded exponential
// backoff with a per-attempt timeout. Exhausting retries surfaces a
// TransientServiceError rather than hanging.
func (n *Normalizer) callExternal(ctx context.Context, service string, fn func(ctx context.Context) (string, error)) (string, error) {
	var out string

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.retry.Base
	bo.Multiplier = 2

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, n.retry.AttemptTimeout)
		defer cancel()

		text, err := fn(attemptCtx)
		if err != nil {
			log.Warn().Str("service", service).Err(err).Msg("external call failed, will retry")
			return err
		}
		out = text
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(n.retry.MaxAttempts-1)), ctx))
	if err != nil {
		return "", &model.TransientServiceError{Service: service, Err: err}
	}
	return out, nil
}

// isTextual accepts UTF-8 content without NUL bytes.
func isTextual(sniffed string, b []byte) bool {
	if strings.HasPrefix(sniffed, "text/") {
		return true
	}
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	// JSON/CSV chat exports sniff as application/* but are still text.
	return strings.HasPrefix(sniffed, "application/json") ||
		strings.HasPrefix(sniffed, "application/octet-stream")
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
	// chatPrefix matches exported-chat line headers like
	// "[2021-05-03, 10:04] Name:" or "12/05/21, 9:30 PM - Name:".
	chatPrefix = regexp.MustCompile(`(?m)^(?:\[[^\]]{4,40}\]\s*|[0-9/.\-]{6,10},?\s+[0-9:]{3,8}(?:\s*[AP]M)?\s*-\s*)`)
)

// cleanText applies encoding-safe whitespace and structure cleanup.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	s = b.String()

	s = spaceRun.ReplaceAllString(s, " ")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// cleanChatExport strips per-line timestamp headers so the speaker turns
// read as prose.
func cleanChatExport(s string) string {
	s = chatPrefix.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
