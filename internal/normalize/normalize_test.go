package normalize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/companionkit/memoryengine/internal/model"
)

type fakeTranscriber struct {
	text     string
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.calls++
	if f.failures >= f.calls {
		return "", errors.New("stt offline")
	}
	return f.text, f.err
}

type fakeCaptioner struct{ text string }

func (f *fakeCaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	return f.text, nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, AttemptTimeout: time.Second}
}

func TestNormalizeText(t *testing.T) {
	n := New(0, nil, nil, fastRetry())

	got, err := n.Normalize(context.Background(), []byte("hello   world\r\n\r\n\r\n\r\nbye"), model.SourceText)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.Text != "hello world\n\nbye" {
		t.Errorf("unexpected cleanup: %q", got.Text)
	}
	if got.SourceType != model.SourceText {
		t.Errorf("source type changed: %s", got.SourceType)
	}
}

func TestNormalizeChatStripsHeaders(t *testing.T) {
	n := New(0, nil, nil, fastRetry())

	raw := "[2021-05-03, 10:04] Asha: she loves rainy evenings\n[2021-05-03, 10:05] Me: noted"
	got, err := n.Normalize(context.Background(), []byte(raw), model.SourceChat)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if strings.Contains(got.Text, "[2021") {
		t.Errorf("timestamp header survived: %q", got.Text)
	}
	if !strings.Contains(got.Text, "Asha: she loves rainy evenings") {
		t.Errorf("speaker line lost: %q", got.Text)
	}
}

func TestSizeLimit(t *testing.T) {
	n := New(8, nil, nil, fastRetry())

	_, err := n.Normalize(context.Background(), []byte("way past the ceiling"), model.SourceText)
	if !errors.Is(err, model.ErrSizeLimitExceeded) {
		t.Errorf("expected ErrSizeLimitExceeded, got %v", err)
	}
}

func TestDeclaredTypeMismatch(t *testing.T) {
	n := New(0, &fakeTranscriber{}, nil, fastRetry())

	// Plain text declared as photo must be rejected, not captioned.
	_, err := n.Normalize(context.Background(), []byte("just some text content here"), model.SourcePhoto)
	if !errors.Is(err, model.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}

	// Binary content declared as text must be rejected.
	_, err = n.Normalize(context.Background(), []byte{0x00, 0x01, 0xff, 0xfe, 0x00}, model.SourceText)
	if !errors.Is(err, model.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for binary, got %v", err)
	}
}

func TestVoiceDelegatesWithRetry(t *testing.T) {
	tr := &fakeTranscriber{text: "we met in goa in 2019", failures: 2}
	n := New(0, tr, nil, fastRetry())

	// Raw PCM-ish bytes sniff as octet-stream, which is acceptable for
	// declared voice.
	audio := []byte{0x52, 0x49, 0x46, 0x46, 0x10, 0x20, 0x30, 0x40}
	got, err := n.Normalize(context.Background(), audio, model.SourceVoice)
	if err != nil {
		t.Fatalf("normalize voice: %v", err)
	}
	if got.Text != "we met in goa in 2019" {
		t.Errorf("unexpected transcript: %q", got.Text)
	}
	if tr.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", tr.calls)
	}
}

func TestVoiceSurfacesTransientError(t *testing.T) {
	tr := &fakeTranscriber{failures: 99}
	n := New(0, tr, nil, fastRetry())

	audio := []byte{0x52, 0x49, 0x46, 0x46, 0x10, 0x20, 0x30, 0x40}
	_, err := n.Normalize(context.Background(), audio, model.SourceVoice)
	if !model.IsTransient(err) {
		t.Errorf("expected TransientServiceError, got %v", err)
	}
	if tr.calls != 3 {
		t.Errorf("expected exactly 3 bounded attempts, got %d", tr.calls)
	}
}

func TestPhotoCaption(t *testing.T) {
	n := New(0, nil, &fakeCaptioner{text: "two people at a beach cafe"}, fastRetry())

	// Minimal PNG header so content sniffing sees an image.
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	got, err := n.Normalize(context.Background(), png, model.SourcePhoto)
	if err != nil {
		t.Fatalf("normalize photo: %v", err)
	}
	if got.Text != "two people at a beach cafe" {
		t.Errorf("unexpected caption: %q", got.Text)
	}
}
