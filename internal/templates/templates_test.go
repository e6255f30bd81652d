package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `
templates:
  - id: greeting
    name: Greeting
    language: pt
    body: "Olá {{.name}}, meu nome é {{.agent}}. Como posso ajudar?"
  - id: closing
    name: Closing
    body: "Obrigado pelo contato!"
`

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(4)
	require.NoError(t, err)
	return r
}

func TestLoadAndRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	r := newRenderer(t)
	require.NoError(t, r.LoadFile(path))
	require.Len(t, r.List(), 2)

	out, err := r.Render(context.Background(), "greeting", map[string]string{"name": "Maria", "agent": "João"})
	require.NoError(t, err)
	assert.Equal(t, "Olá Maria, meu nome é João. Como posso ajudar?", out)

	out, err = r.Render(context.Background(), "closing", nil)
	require.NoError(t, err)
	assert.Equal(t, "Obrigado pelo contato!", out)
}

func TestRenderErrors(t *testing.T) {
	r := newRenderer(t)
	require.NoError(t, r.Upsert(Template{ID: "t", Body: "Hi {{.name}}"}))

	_, err := r.Render(context.Background(), "t", map[string]string{})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = r.Render(context.Background(), "missing", nil)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	assert.True(t, apperr.Is(r.Upsert(Template{ID: "bad", Body: "{{.name"}), apperr.CodeValidation))
	assert.True(t, apperr.Is(r.Upsert(Template{Body: "x"}), apperr.CodeValidation))
}

func TestUpsertReplacesBodyAndKeepsUsage(t *testing.T) {
	r := newRenderer(t)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	require.NoError(t, r.Upsert(Template{ID: "t", Body: "v1"}))
	out, _ := r.Render(context.Background(), "t", nil)
	assert.Equal(t, "v1", out)
	require.NoError(t, r.RecordUsage(context.Background(), "t"))

	require.NoError(t, r.Upsert(Template{ID: "t", Body: "v2"}))
	out, _ = r.Render(context.Background(), "t", nil)
	assert.Equal(t, "v2", out)

	got, err := r.Get("t")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.UsageCount)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, fixed, *got.LastUsedAt)

	assert.True(t, apperr.Is(r.RecordUsage(context.Background(), "nope"), apperr.CodeNotFound))
}

func TestLoadFileIsAllOrNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	r := newRenderer(t)
	require.NoError(t, r.LoadFile(path))

	broken := `
templates:
  - id: closing
    body: "Até logo!"
  - id: broken
    body: "{{.name"
`
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o600))
	err := r.LoadFile(path)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	closing, err := r.Get("closing")
	require.NoError(t, err)
	assert.Equal(t, "Obrigado pelo contato!", closing.Body, "valid entries before the broken one are not applied")
}
