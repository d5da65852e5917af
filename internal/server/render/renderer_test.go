package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/server/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

// pageEngine treats files as "pages:N" text documents.
type pageEngine struct {
	settings []printsettings.Settings
	failWith error
}

func readPages(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimPrefix(string(b), "pages:"))
}

func writePages(path string, n int) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("pages:%d", n)), 0o600)
}

func (e *pageEngine) RasterizePDF(_ context.Context, in, out string, s printsettings.Settings) error {
	if e.failWith != nil {
		return e.failWith
	}
	e.settings = append(e.settings, s)
	n, err := readPages(in)
	if err != nil {
		return err
	}
	return writePages(out, n)
}

func (e *pageEngine) RasterizeImage(_ context.Context, _, out string, s printsettings.Settings) error {
	e.settings = append(e.settings, s)
	return writePages(out, 1)
}

func (e *pageEngine) Merge(_ context.Context, ins []string, out string) error {
	total := 0
	for _, in := range ins {
		n, err := readPages(in)
		if err != nil {
			return err
		}
		total += n
	}
	return writePages(out, total)
}

func (e *pageEngine) Layout(_ context.Context, in, out string, perSheet int) error {
	n, err := readPages(in)
	if err != nil {
		return err
	}
	return writePages(out, (n+perSheet-1)/perSheet)
}

func (e *pageEngine) PageCount(_ context.Context, path string) (int, error) {
	return readPages(path)
}

func newBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	b := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRenderer_Execute(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t)
	require.NoError(t, bucket.WriteAll(ctx, "s/a.pdf", []byte("pages:3"), nil))
	require.NoError(t, bucket.WriteAll(ctx, "s/b.jpg", []byte("jpeg"), nil))
	require.NoError(t, bucket.WriteAll(ctx, "s/c.pdf", []byte("pages:2"), nil))

	engine := &pageEngine{}
	r := NewRenderer(bucket, engine, t.TempDir())

	tests := []struct {
		name  string
		task  workerpool.Task
		pages int
	}{
		{name: "rasterize pdf", task: workerpool.Task{Kind: workerpool.KindRasterizePDF, Inputs: []string{"s/a.pdf"}, Output: "s/pa.pdf"}, pages: 3},
		{name: "rasterize image", task: workerpool.Task{Kind: workerpool.KindRasterizeImage, Inputs: []string{"s/b.jpg"}, Output: "s/pb.pdf"}, pages: 1},
		{name: "merge", task: workerpool.Task{Kind: workerpool.KindMerge, Inputs: []string{"s/a.pdf", "s/c.pdf"}, Output: "artifacts/m.pdf"}, pages: 5},
		{name: "merge and layout", task: workerpool.Task{
			Kind: workerpool.KindMergeAndLayout, Inputs: []string{"s/a.pdf", "s/c.pdf"}, Output: "artifacts/l.pdf",
			Settings: printsettings.Settings{PagesPerSheet: 4},
		}, pages: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputs, err := r.Execute(ctx, tt.task)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.task.Output}, outputs)

			n, err := r.PageCount(ctx, tt.task.Output)
			require.NoError(t, err)
			assert.Equal(t, tt.pages, n)

			attrs, err := bucket.Attributes(ctx, tt.task.Output)
			require.NoError(t, err)
			assert.Equal(t, pdfContentType, attrs.ContentType)
		})
	}
}

func TestRenderer_Execute_Errors(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t)
	require.NoError(t, bucket.WriteAll(ctx, "s/a.pdf", []byte("pages:1"), nil))

	r := NewRenderer(bucket, &pageEngine{failWith: errors.New("corrupt")}, t.TempDir())

	_, err := r.Execute(ctx, workerpool.Task{Kind: workerpool.KindRasterizePDF, Output: "x"})
	require.Error(t, err)

	_, err = r.Execute(ctx, workerpool.Task{Kind: workerpool.KindRasterizePDF, Inputs: []string{"s/a.pdf"}})
	require.Error(t, err)

	_, err = r.Execute(ctx, workerpool.Task{Kind: workerpool.KindRasterizePDF, Inputs: []string{"s/missing.pdf"}, Output: "x"})
	require.Error(t, err)

	_, err = r.Execute(ctx, workerpool.Task{Kind: "sharpen", Inputs: []string{"s/a.pdf"}, Output: "x"})
	require.ErrorContains(t, err, "unknown task kind")

	_, err = r.Execute(ctx, workerpool.Task{Kind: workerpool.KindRasterizePDF, Inputs: []string{"s/a.pdf"}, Output: "x"})
	require.ErrorContains(t, err, "corrupt")

	exists, err := bucket.Exists(ctx, "x")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRenderer_PassesSettingsToEngine(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t)
	require.NoError(t, bucket.WriteAll(ctx, "s/a.pdf", []byte("pages:1"), nil))

	engine := &pageEngine{}
	r := NewRenderer(bucket, engine, t.TempDir())

	s := printsettings.Settings{Color: printsettings.ColorMono, Orientation: printsettings.Landscape}
	_, err := r.Execute(ctx, workerpool.Task{Kind: workerpool.KindRasterizePDF, Inputs: []string{"s/a.pdf"}, Output: "o", Settings: s})
	require.NoError(t, err)
	assert.Equal(t, []printsettings.Settings{s}, engine.settings)
}
