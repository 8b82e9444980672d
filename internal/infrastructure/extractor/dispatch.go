package extractor

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/infrastructure/extractor/pdfdoc"
	"github.com/mkropachev/ragpipe/internal/infrastructure/extractor/plaintext"
	"github.com/mkropachev/ragpipe/internal/infrastructure/extractor/xlsxdoc"
)

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Dispatcher routes a document to a format extractor by MIME type, falling
// back to the filename extension when the upload carried a generic type.
type Dispatcher struct {
	byMime map[string]ports.TextExtractor
	byExt  map[string]ports.TextExtractor
}

func NewDispatcher(storage ports.ObjectStorage) *Dispatcher {
	plain := plaintext.NewExtractor(storage)
	pdfx := pdfdoc.NewExtractor(storage)
	xlsx := xlsxdoc.NewExtractor(storage)

	return &Dispatcher{
		byMime: map[string]ports.TextExtractor{
			"text/plain":      plain,
			"text/markdown":   plain,
			"text/csv":        plain,
			"application/pdf": pdfx,
			xlsxMime:          xlsx,
		},
		byExt: map[string]ports.TextExtractor{
			".txt":  plain,
			".md":   plain,
			".csv":  plain,
			".pdf":  pdfx,
			".xlsx": xlsx,
		},
	}
}

// SupportedMime reports whether an upload with this MIME type or filename
// will be accepted; the ingest endpoint rejects unsupported uploads before
// storing them.
func (d *Dispatcher) SupportedMime(mimeType, filename string) bool {
	_, err := d.pick(mimeType, filename)
	return err == nil
}

func (d *Dispatcher) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	target, err := d.pick(doc.MimeType, doc.Filename)
	if err != nil {
		return "", err
	}
	return target.Extract(ctx, doc)
}

func (d *Dispatcher) pick(mimeType, filename string) (ports.TextExtractor, error) {
	if mimeType != "" {
		parsed, _, err := mime.ParseMediaType(mimeType)
		if err == nil {
			if target, ok := d.byMime[parsed]; ok {
				return target, nil
			}
		}
	}
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		if target, ok := d.byExt[strings.ToLower(filename[idx:])]; ok {
			return target, nil
		}
	}
	return nil, domain.WrapError(domain.ErrInvalidInput, "select extractor",
		fmt.Errorf("unsupported document type %q (%s)", mimeType, filename))
}
