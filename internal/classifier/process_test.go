package classifier

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/reserve/internal/config"
)

// writeScript creates an executable shell script standing in for the
// external classifier.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "classify.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newProcess(script string, mutate ...func(*config.ClassifierConfig)) *ProcessClassifier {
	cfg := config.ClassifierConfig{
		Command:       script,
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewProcessClassifier(cfg)
}

func TestProcessClassifier_Success(t *testing.T) {
	script := writeScript(t, `echo "loading model"
echo '{"label": "Procyon lotor", "confidence": 0.87}'`)

	res, err := newProcess(script).Classify(context.Background(), "raccoon.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Procyon lotor", res.Label)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 0.87, *res.Confidence, 1e-9)
}

func TestProcessClassifier_PassesAbsolutePath(t *testing.T) {
	script := writeScript(t, `printf '{"label": "%s"}\n' "$1"`)

	res, err := newProcess(script).Classify(context.Background(), "uploads/image-1.jpg")
	require.NoError(t, err)

	want, err := filepath.Abs("uploads/image-1.jpg")
	require.NoError(t, err)
	assert.Equal(t, want, res.Label)
}

func TestProcessClassifier_ExitError(t *testing.T) {
	script := writeScript(t, `echo "Error: HUGGING_FACE_API_KEY is not set" >&2
exit 1`)

	_, err := newProcess(script).Classify(context.Background(), "x.jpg")
	require.Error(t, err)
	assert.Equal(t, KindProcess, KindOf(err))
	assert.Contains(t, err.Error(), "HUGGING_FACE_API_KEY")
}

func TestProcessClassifier_Stderr(t *testing.T) {
	script := writeScript(t, `echo "Using InferenceClient for classification" >&2
echo '{"label": "Bufo bufo"}'`)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	res, err := newProcess(script).Classify(context.Background(), "toad.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Bufo bufo", res.Label)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "Using InferenceClient for classification")

	strict := newProcess(script, func(c *config.ClassifierConfig) { c.FailOnStderr = true })
	_, err = strict.Classify(context.Background(), "toad.jpg")
	require.Error(t, err)
	assert.Equal(t, KindProcess, KindOf(err))
}

func TestProcessClassifier_PayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want Kind
	}{
		{"unauthorized", `{"error": "Unauthorized: Invalid or missing API key (401)"}`, KindUnauthorized},
		{"unavailable", `{"error": "Hugging Face service unavailable (503)"}`, KindUnavailable},
		{"no json", `plain text only`, KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, "echo '"+tt.out+"'")
			_, err := newProcess(script).Classify(context.Background(), "x.jpg")
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestProcessClassifier_Timeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	c := newProcess(script, func(c *config.ClassifierConfig) { c.Timeout = 100 * time.Millisecond })

	start := time.Now()
	_, err := c.Classify(context.Background(), "x.jpg")
	require.Error(t, err)
	assert.Equal(t, KindProcess, KindOf(err))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestProcessClassifier_MissingCommand(t *testing.T) {
	c := newProcess(filepath.Join(t.TempDir(), "does-not-exist"))

	_, err := c.Classify(context.Background(), "x.jpg")
	require.Error(t, err)
	assert.Equal(t, KindProcess, KindOf(err))
}
