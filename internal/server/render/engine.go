package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/disintegration/imaging"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Engine performs document transformations on local files.
type Engine interface {
	RasterizePDF(ctx context.Context, in, out string, s printsettings.Settings) error
	RasterizeImage(ctx context.Context, in, out string, s printsettings.Settings) error
	Merge(ctx context.Context, ins []string, out string) error
	Layout(ctx context.Context, in, out string, pagesPerSheet int) error
	PageCount(ctx context.Context, path string) (int, error)
}

// CommandRunner executes an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// PDFEngine renders with pdfcpu and imaging. Grayscale conversion of PDF
// input is delegated to Ghostscript.
type PDFEngine struct {
	ghostscript string
	run         CommandRunner
	conf        *model.Configuration
}

func NewPDFEngine(ghostscript string) *PDFEngine {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFEngine{ghostscript: ghostscript, run: execRunner, conf: conf}
}

func (e *PDFEngine) RasterizePDF(ctx context.Context, in, out string, s printsettings.Settings) error {
	src := in

	if !s.IsColor() {
		gray := out + ".gray.pdf"
		defer os.Remove(gray)

		output, err := e.run(ctx, e.ghostscript,
			"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
			"-sDEVICE=pdfwrite",
			"-sColorConversionStrategy=Gray",
			"-dProcessColorModel=/DeviceGray",
			"-dCompatibilityLevel=1.4",
			"-sOutputFile="+gray,
			src,
		)
		if err != nil {
			return fmt.Errorf("ghostscript grayscale: %w: %s", err, output)
		}
		src = gray
	}

	if s.Orientation == printsettings.Landscape {
		if err := api.RotateFile(src, out, 90, nil, e.conf); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		return nil
	}

	return copyFile(src, out)
}

func (e *PDFEngine) RasterizeImage(ctx context.Context, in, out string, s printsettings.Settings) error {
	img, err := imaging.Open(in, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}

	if !s.IsColor() {
		img = imaging.Grayscale(img)
	}
	if s.Orientation == printsettings.Landscape {
		img = imaging.Rotate90(img)
	}

	jpg := out + ".jpg"
	defer os.Remove(jpg)

	if err := imaging.Save(img, jpg, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}

	if err := api.ImportImagesFile([]string{jpg}, out, pdfcpu.DefaultImportConfig(), e.conf); err != nil {
		return fmt.Errorf("import image: %w", err)
	}
	return nil
}

func (e *PDFEngine) Merge(ctx context.Context, ins []string, out string) error {
	switch len(ins) {
	case 0:
		return fmt.Errorf("merge: no input files")
	case 1:
		return copyFile(ins[0], out)
	}

	if err := api.MergeCreateFile(ins, out, false, e.conf); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

func (e *PDFEngine) Layout(ctx context.Context, in, out string, pagesPerSheet int) error {
	if pagesPerSheet <= 1 {
		return copyFile(in, out)
	}

	nup, err := api.PDFNUpConfig(pagesPerSheet, "", e.conf)
	if err != nil {
		return fmt.Errorf("n-up config: %w", err)
	}
	if err := api.NUpFile([]string{in}, out, nil, nup, e.conf); err != nil {
		return fmt.Errorf("n-up: %w", err)
	}
	return nil
}

func (e *PDFEngine) PageCount(ctx context.Context, path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
