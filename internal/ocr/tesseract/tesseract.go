// Package tesseract implements ocr.Recognizer with the Tesseract engine via gosseract.
package tesseract

import (
	"context"
	"fmt"
	"strconv"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer runs Tesseract on image files. A new client is created per call
// so a Recognizer is safe for concurrent use.
type Recognizer struct {
	clientFactory  func() *gosseract.Client
	languages      []string
	tessdataPrefix string
	dpi            int
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithLanguages sets the recognition languages. Default is "eng".
func WithLanguages(langs ...string) Option {
	return func(r *Recognizer) {
		if len(langs) > 0 {
			r.languages = langs
		}
	}
}

// WithTessdataPrefix sets the directory holding the traineddata files.
func WithTessdataPrefix(prefix string) Option {
	return func(r *Recognizer) { r.tessdataPrefix = prefix }
}

// WithDPI tells Tesseract the resolution the images were rendered at.
func WithDPI(dpi int) Option {
	return func(r *Recognizer) { r.dpi = dpi }
}

// New creates a Recognizer.
func New(opts ...Option) *Recognizer {
	r := &Recognizer{
		clientFactory: gosseract.NewClient,
		languages:     []string{"eng"},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type result struct {
	text string
	err  error
}

// Recognize returns the text found in the image at imagePath. The cgo call
// cannot be interrupted; on cancellation Recognize returns immediately and the
// call finishes in the background.
func (r *Recognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	done := make(chan result, 1)
	go func() {
		text, err := r.recognize(imagePath)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.text, res.err
	}
}

func (r *Recognizer) recognize(imagePath string) (string, error) {
	c := r.clientFactory()
	defer c.Close()

	if r.tessdataPrefix != "" {
		if err := c.SetTessdataPrefix(r.tessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(r.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if r.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(r.dpi)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}
	if err := c.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
