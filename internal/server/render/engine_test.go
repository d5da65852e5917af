package render

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	img := imaging.New(120, 80, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	require.NoError(t, imaging.Save(img, p))
	return p
}

func colorSettings() printsettings.Settings {
	return printsettings.Settings{Color: printsettings.ColorColor, Orientation: printsettings.Portrait}
}

func TestPDFEngine_ImageToPDF_MergeAndCount(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := NewPDFEngine("gs")

	png := writeTestImage(t, dir, "a.png")
	jpg := writeTestImage(t, dir, "b.jpg")

	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "b.pdf")
	require.NoError(t, e.RasterizeImage(ctx, png, a, colorSettings()))
	require.NoError(t, e.RasterizeImage(ctx, jpg, b, printsettings.Default()))

	n, err := e.PageCount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	merged := filepath.Join(dir, "merged.pdf")
	require.NoError(t, e.Merge(ctx, []string{a, b}, merged))

	n, err = e.PageCount(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	laid := filepath.Join(dir, "laid.pdf")
	require.NoError(t, e.Layout(ctx, merged, laid, 2))

	n, err = e.PageCount(ctx, laid)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPDFEngine_MergeSingleAndEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := NewPDFEngine("gs")

	src := filepath.Join(dir, "only.pdf")
	require.NoError(t, e.RasterizeImage(ctx, writeTestImage(t, dir, "x.png"), src, colorSettings()))

	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, e.Merge(ctx, []string{src}, out))
	n, err := e.PageCount(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Error(t, e.Merge(ctx, nil, out))
}

func TestPDFEngine_RasterizePDF_MonoUsesGhostscript(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := NewPDFEngine("/opt/gs")

	src := filepath.Join(dir, "src.pdf")
	require.NoError(t, e.RasterizeImage(ctx, writeTestImage(t, dir, "x.png"), src, colorSettings()))

	var gotName string
	var gotArgs []string
	e.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		var outFile string
		for _, a := range args {
			if strings.HasPrefix(a, "-sOutputFile=") {
				outFile = strings.TrimPrefix(a, "-sOutputFile=")
			}
		}
		data, err := os.ReadFile(args[len(args)-1])
		if err != nil {
			return nil, err
		}
		return nil, os.WriteFile(outFile, data, 0o600)
	}

	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, e.RasterizePDF(ctx, src, out, printsettings.Default()))

	assert.Equal(t, "/opt/gs", gotName)
	assert.Contains(t, gotArgs, "-sColorConversionStrategy=Gray")
	assert.Equal(t, src, gotArgs[len(gotArgs)-1])

	n, err := e.PageCount(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(out + ".gray.pdf")
	assert.True(t, os.IsNotExist(err))
}

func TestPDFEngine_RasterizePDF_ColorLandscapeSkipsGhostscript(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := NewPDFEngine("gs")
	e.run = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("ghostscript must not run for color output")
		return nil, nil
	}

	src := filepath.Join(dir, "src.pdf")
	require.NoError(t, e.RasterizeImage(ctx, writeTestImage(t, dir, "x.png"), src, colorSettings()))

	out := filepath.Join(dir, "out.pdf")
	s := printsettings.Settings{Color: printsettings.ColorColor, Orientation: printsettings.Landscape}
	require.NoError(t, e.RasterizePDF(ctx, src, out, s))

	n, err := e.PageCount(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPDFEngine_RasterizeImage_BadInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o600))

	err := NewPDFEngine("gs").RasterizeImage(context.Background(), bad, filepath.Join(dir, "o.pdf"), colorSettings())
	require.ErrorContains(t, err, "open image")
}
