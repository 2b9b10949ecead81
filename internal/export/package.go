package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// File is one deliverable.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Packager bundles several files into one.
type Packager interface {
	Package(name string, files ...File) (File, error)
}

// ZipPackager writes deflate-compressed zip archives.
type ZipPackager struct {
	// Modified stamps archive entries. Zero means time.Now.
	Modified time.Time
}

// Package zips files under name.
func (z ZipPackager) Package(name string, files ...File) (File, error) {
	if len(files) == 0 {
		return File{}, errors.New("nothing to package")
	}
	mod := z.Modified
	if mod.IsZero() {
		mod = time.Now()
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: mod,
		})
		if err != nil {
			return File{}, fmt.Errorf("adding %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return File{}, fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return File{}, fmt.Errorf("closing archive: %w", err)
	}
	return File{Name: name, ContentType: "application/zip", Data: buf.Bytes()}, nil
}

// Sink receives finished deliverables.
type Sink interface {
	Deliver(ctx context.Context, f File) error
}

// DirSink writes deliverables into a directory, optionally gzipped.
type DirSink struct {
	Dir      string
	Compress bool
}

// Deliver writes f to Dir. With Compress set the file gets a .gz suffix.
func (s DirSink) Deliver(ctx context.Context, f File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	name := filepath.Base(f.Name)
	if !s.Compress {
		return os.WriteFile(filepath.Join(s.Dir, name), f.Data, 0644)
	}

	out, err := os.Create(filepath.Join(s.Dir, name+".gz"))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	gw.Name = name
	if _, err := gw.Write(f.Data); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to finish output file: %w", err)
	}
	return out.Close()
}

// MemorySink keeps deliverables in memory.
type MemorySink struct {
	mu    sync.Mutex
	files []File
}

// Deliver stores f.
func (s *MemorySink) Deliver(_ context.Context, f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, f)
	return nil
}

// Files returns everything delivered so far.
func (s *MemorySink) Files() []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]File(nil), s.files...)
}

// Reset drops stored files.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
}
