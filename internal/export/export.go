// Package export writes the aggregate view to a JSON file that other
// processes can follow. Writes are atomic: readers see either the previous
// document or the new one, never a partial file.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"

	"github.com/slotwatch/slotwatch/internal/query"
)

// LockTimeout bounds how long Write waits for the export lock. Past it the
// write proceeds unlocked rather than stalling the caller.
const LockTimeout = 100 * time.Millisecond

// Document is the on-disk export format.
type Document struct {
	Generation uint64             `json:"generation"`
	ExportedAt time.Time          `json:"exported_at"`
	Centers    []query.CenterView `json:"centers"`
}

// Lister produces the views to export.
type Lister interface {
	List() []query.CenterView
	Generation() uint64
}

// Subscriber notifies of new cache generations.
type Subscriber interface {
	Subscribe() (<-chan uint64, func())
}

// Exporter writes Documents to Path.
type Exporter struct {
	Path string

	now func() time.Time
}

// New creates an exporter for path.
func New(path string) *Exporter {
	return &Exporter{Path: path, now: time.Now}
}

func (e *Exporter) lockPath() string {
	return e.Path + ".lock"
}

// acquireLock takes the export lock. It returns a nil unlock func and no
// error when the lock is busy past LockTimeout.
func (e *Exporter) acquireLock() (func(), error) {
	fl := flock.New(e.lockPath())

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock %s: %w", e.lockPath(), err)
	}
	if !locked {
		return nil, nil
	}
	return func() { _ = fl.Unlock() }, nil
}

// Export writes the current listing.
func (e *Exporter) Export(l Lister) (Document, error) {
	// Generation is read first so the document never claims a newer
	// generation than the views it carries.
	gen := l.Generation()
	doc := Document{Generation: gen, Centers: l.List()}
	return doc, e.Write(doc)
}

// Write stores doc at Path via a temp file and rename. ExportedAt is set
// when zero.
func (e *Exporter) Write(doc Document) error {
	if doc.ExportedAt.IsZero() {
		now := time.Now
		if e.now != nil {
			now = e.now
		}
		doc.ExportedAt = now().UTC()
	}
	if doc.Centers == nil {
		doc.Centers = []query.CenterView{}
	}

	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return err
	}

	unlock, err := e.acquireLock()
	if err != nil {
		return err
	}
	if unlock != nil {
		defer unlock()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	// Unique temp name, since an unlocked writer may run concurrently.
	tmp := fmt.Sprintf("%s.%d.%d.tmp", e.Path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		_ = os.Remove(e.Path)
	}
	if err := os.Rename(tmp, e.Path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Read loads a document written by Write.
func Read(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Follow exports once, then again each time the cache publishes a new
// generation, until ctx is done. Write errors are passed to onErr and do
// not stop the loop.
func Follow(ctx context.Context, e *Exporter, l Lister, sub Subscriber, onErr func(error)) {
	updates, cancel := sub.Subscribe()
	defer cancel()

	var last uint64
	written := false
	write := func() {
		doc, err := e.Export(l)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		last, written = doc.Generation, true
	}

	write()
	for {
		select {
		case <-ctx.Done():
			return
		case gen := <-updates:
			if written && gen <= last {
				continue
			}
			write()
		}
	}
}
