// Package transferstore reassembles a package from out-of-order,
// base64-encoded chunks arriving over the remote gateway, writing each
// chunk straight to its offset in a scratch file on disk.
//
// Grounded in original_source/src/persistence.rs and
// original_source/src/handler/chunk.rs (wire format: URL-safe, padded
// base64). The mutex-guarded map idiom is adapted from the teacher's
// daemon/manager/store.go SessionStore.
package transferstore

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/leon-anavi/rvi-sota-client/internal/otaerr"
)

var ErrTransferNotFound = otaerr.IO("transfer not found", nil)

// Transfer tracks the reassembly of one package into a scratch file. A
// transfer is addressed by package name, but the chunk RPCs for it can
// arrive on different streams and run on concurrent goroutines, so every
// method that touches TransferredChunks, finished, or the backing file
// holds mu for the whole read-modify-write, not just the initial lookup.
type Transfer struct {
	PackageName       string
	TotalSize         int64
	ChunkSize         int64
	TransferredChunks map[int64]bool
	finished          bool

	mu   sync.Mutex
	fd   *os.File
	path string
}

func newTransfer(dir, packageName string, totalSize, chunkSize int64) (*Transfer, error) {
	path := filepath.Join(dir, packageName)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, otaerr.IO(path, err)
	}
	return &Transfer{
		PackageName:       packageName,
		TotalSize:         totalSize,
		ChunkSize:         chunkSize,
		TransferredChunks: make(map[int64]bool),
		fd:                fd,
		path:              path,
	}, nil
}

// Restart resets chunk/size bookkeeping for a re-issued start message
// without reopening the backing file, matching PackageFile::start.
func (t *Transfer) Restart(chunkSize, totalSize int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ChunkSize = chunkSize
	t.TotalSize = totalSize
	t.finished = false
	t.TransferredChunks = make(map[int64]bool)
}

// chunkCount is the number of chunks TotalSize/ChunkSize implies, rounded
// up, i.e. ceil(TotalSize/ChunkSize). Callers hold t.mu.
func (t *Transfer) chunkCount() int64 {
	if t.ChunkSize <= 0 {
		return 0
	}
	return (t.TotalSize + t.ChunkSize - 1) / t.ChunkSize
}

// WriteChunk base64-decodes encoded and writes it at index*ChunkSize.
// Writing the same index twice is idempotent: the byte range is simply
// overwritten and the index is recorded once. index must fall within
// [0, ceil(TotalSize/ChunkSize)); anything else is rejected rather than
// used as a file offset.
func (t *Transfer) WriteChunk(encoded string, index int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= t.chunkCount() {
		return otaerr.OutOfRange(fmt.Sprintf("%s: chunk index %d out of range (0..%d)", t.PackageName, index, t.chunkCount()))
	}

	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return otaerr.Decode(t.PackageName, err)
	}
	offset := t.ChunkSize * index
	if _, err := t.fd.WriteAt(decoded, offset); err != nil {
		return otaerr.IO(t.PackageName, err)
	}
	t.TransferredChunks[index] = true
	return nil
}

// Finish marks the transfer complete and reports whether every chunk
// implied by TotalSize/ChunkSize was actually written.
func (t *Transfer) Finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.finished = true
	return int64(len(t.TransferredChunks))*t.ChunkSize >= t.TotalSize
}

func (t *Transfer) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// transferredChunks returns a snapshot of written chunk indices.
func (t *Transfer) transferredChunks() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunks := make([]int64, 0, len(t.TransferredChunks))
	for idx := range t.TransferredChunks {
		chunks = append(chunks, idx)
	}
	return chunks
}

// Path is the scratch file's location on disk.
func (t *Transfer) Path() string { return t.path }

func (t *Transfer) Close() error { return t.fd.Close() }

// Store is the mutex-guarded map of in-flight transfers, one per package
// name, adapted from the teacher's SessionStore.
type Store struct {
	dir       string
	mu        sync.RWMutex
	transfers map[string]*Transfer
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, transfers: make(map[string]*Transfer)}
}

// Start begins (or restarts) a transfer for packageName.
func (s *Store) Start(packageName string, totalSize, chunkSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transfers[packageName]; ok {
		existing.Restart(chunkSize, totalSize)
		return nil
	}

	t, err := newTransfer(s.dir, packageName, totalSize, chunkSize)
	if err != nil {
		return err
	}
	s.transfers[packageName] = t
	return nil
}

// WriteChunk looks up packageName's transfer and writes one chunk to it.
func (s *Store) WriteChunk(packageName string, encoded string, index int64) error {
	s.mu.RLock()
	t, ok := s.transfers[packageName]
	s.mu.RUnlock()
	if !ok {
		return ErrTransferNotFound
	}
	return t.WriteChunk(encoded, index)
}

// Finish marks packageName's transfer complete and returns its scratch
// file path if every chunk arrived, or an IncompleteTransfer error.
func (s *Store) Finish(packageName string) (string, error) {
	s.mu.Lock()
	t, ok := s.transfers[packageName]
	s.mu.Unlock()
	if !ok {
		return "", ErrTransferNotFound
	}
	if !t.Finish() {
		return "", otaerr.IncompleteTransfer(packageName)
	}
	return t.Path(), nil
}

// Abort removes packageName's transfer and closes its scratch file.
func (s *Store) Abort(packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[packageName]
	if !ok {
		return ErrTransferNotFound
	}
	delete(s.transfers, packageName)
	return t.Close()
}

// TransferredChunks reports which chunk indices have been written for
// packageName, used to answer the remote gateway's ChunkReceived ack.
func (s *Store) TransferredChunks(packageName string) ([]int64, error) {
	s.mu.RLock()
	t, ok := s.transfers[packageName]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTransferNotFound
	}
	return t.transferredChunks(), nil
}
