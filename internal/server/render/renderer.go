// Package render executes worker pool tasks: it stages the task's inputs
// from the bucket into a scratch directory, runs the Engine and uploads the
// result under the task's output key.
package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dmitrijs2005/printrelay/internal/server/workerpool"
	"gocloud.dev/blob"
)

const pdfContentType = "application/pdf"

type Renderer struct {
	bucket  *blob.Bucket
	engine  Engine
	tempDir string
}

// NewRenderer returns a workerpool.Executor. tempDir may be empty to use the
// system default.
func NewRenderer(bucket *blob.Bucket, engine Engine, tempDir string) *Renderer {
	return &Renderer{bucket: bucket, engine: engine, tempDir: tempDir}
}

func (r *Renderer) Execute(ctx context.Context, task workerpool.Task) ([]string, error) {
	if len(task.Inputs) == 0 {
		return nil, fmt.Errorf("%s: no inputs", task.Kind)
	}
	if task.Output == "" {
		return nil, fmt.Errorf("%s: no output key", task.Kind)
	}

	dir, err := os.MkdirTemp(r.tempDir, "render-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inputs := make([]string, len(task.Inputs))
	for i, key := range task.Inputs {
		inputs[i] = filepath.Join(dir, fmt.Sprintf("in-%d%s", i, path.Ext(key)))
		if err := r.download(ctx, key, inputs[i]); err != nil {
			return nil, err
		}
	}

	out := filepath.Join(dir, "out.pdf")

	switch task.Kind {
	case workerpool.KindRasterizePDF:
		err = r.engine.RasterizePDF(ctx, inputs[0], out, task.Settings)
	case workerpool.KindRasterizeImage:
		err = r.engine.RasterizeImage(ctx, inputs[0], out, task.Settings)
	case workerpool.KindMerge:
		err = r.engine.Merge(ctx, inputs, out)
	case workerpool.KindMergeAndLayout:
		merged := filepath.Join(dir, "merged.pdf")
		if err = r.engine.Merge(ctx, inputs, merged); err == nil {
			err = r.engine.Layout(ctx, merged, out, task.Settings.PagesPerSheet)
		}
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := r.upload(ctx, out, task.Output); err != nil {
		return nil, err
	}

	return []string{task.Output}, nil
}

// PageCount returns the number of pages of the PDF stored under key.
func (r *Renderer) PageCount(ctx context.Context, key string) (int, error) {
	dir, err := os.MkdirTemp(r.tempDir, "pages-*")
	if err != nil {
		return 0, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "doc.pdf")
	if err := r.download(ctx, key, local); err != nil {
		return 0, err
	}
	return r.engine.PageCount(ctx, local)
}

func (r *Renderer) download(ctx context.Context, key, dst string) error {
	rd, err := r.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer rd.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rd); err != nil {
		f.Close()
		return fmt.Errorf("read %s: %w", key, err)
	}
	return f.Close()
}

func (r *Renderer) upload(ctx context.Context, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := r.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: pdfContentType})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	return w.Close()
}
