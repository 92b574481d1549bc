package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Pdftoppm renders PDF pages to PNG with the poppler pdftoppm binary.
type Pdftoppm struct {
	// Path is the binary to run. Empty means "pdftoppm" on $PATH.
	Path string
}

// RenderPage implements PageRenderer.
func (p Pdftoppm) RenderPage(ctx context.Context, pdfPath string, page, dpi int, outDir string) (string, error) {
	bin := p.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	prefix := filepath.Join(outDir, fmt.Sprintf("page-%05d", page))
	n := strconv.Itoa(page)

	cmd := exec.CommandContext(ctx, bin, p.args(pdfPath, prefix, n, dpi)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	return prefix + ".png", nil
}

func (p Pdftoppm) args(pdfPath, prefix, page string, dpi int) []string {
	return []string{
		"-r", strconv.Itoa(dpi),
		"-png",
		"-f", page,
		"-l", page,
		"-singlefile",
		pdfPath,
		prefix,
	}
}
