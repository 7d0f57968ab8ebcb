package crawler

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-plan/pkg/process"
	"github.com/Sriram-PR/crawl-plan/pkg/storage"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

const contentFilePerm = 0644

// ContentWriter saves accepted pages under a site's content directory
// Pages whose paths derive the same filename overwrite each other
type ContentWriter struct {
	log      *logrus.Entry
	dir      string
	markdown *process.MarkdownConverter // nil disables Markdown export
}

// NewContentWriter creates a ContentWriter rooted at dir
// The directory is created on first save
func NewContentWriter(dir string, markdown *process.MarkdownConverter, log *logrus.Entry) *ContentWriter {
	return &ContentWriter{
		log:      log.WithField("content_dir", dir),
		dir:      dir,
		markdown: markdown,
	}
}

// Dir returns the content directory
func (w *ContentWriter) Dir() string { return w.dir }

// Save implements ContentSink
// The raw body is written as-is; a failed Markdown export is logged and does not fail the save
func (w *ContentWriter) Save(ctx context.Context, pageURL, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := utils.ContentFilename(pageURL)
	path := filepath.Join(w.dir, filename)
	if err := storage.WriteFileAtomic(path, []byte(body), contentFilePerm); err != nil {
		return "", fmt.Errorf("saving page '%s': %w", pageURL, err)
	}

	if w.markdown != nil {
		w.exportMarkdown(pageURL, body, filename)
	}
	return filename, nil
}

func (w *ContentWriter) exportMarkdown(pageURL, body, filename string) {
	log := w.log.WithField("url", pageURL)
	u, err := url.Parse(pageURL)
	if err != nil {
		log.Warnf("Skipping Markdown export, bad URL: %v", err)
		return
	}
	converted, err := w.markdown.Convert(body, u)
	if err != nil {
		log.WithField("error_type", utils.CategorizeError(err)).Warnf("Markdown export failed: %v", err)
		return
	}
	mdPath := filepath.Join(w.dir, process.MarkdownFilename(filename))
	if err := storage.WriteFileAtomic(mdPath, []byte(converted), contentFilePerm); err != nil {
		log.Warnf("Writing Markdown failed: %v", err)
		return
	}
	log.Debugf("Exported Markdown to %s", mdPath)
}
