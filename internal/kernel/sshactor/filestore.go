// Package sshactor implements the SSH server actor (C10). Like C9 it
// has no teacher counterpart in the pack; it is built on
// github.com/gliderlabs/ssh (a real ecosystem library, named not
// grounded per spec.md §4.9).
package sshactor

import (
	"strings"
	"sync"
)

// FileStore is the virtual file map exposed through ls/AddFile/RemoveFile.
// Insertion order is preserved for deterministic ls output.
type FileStore struct {
	mu    sync.Mutex
	order []string
	files map[string][]byte
}

// NewFileStore creates an empty virtual file map.
func NewFileStore() *FileStore {
	return &FileStore{files: make(map[string][]byte)}
}

// Add inserts or overwrites path with bytes. A pre-existing path keeps
// its original position in ls ordering.
func (fs *FileStore) Add(path string, bytes []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.files[path]; !exists {
		fs.order = append(fs.order, path)
	}
	fs.files[path] = bytes
}

// Remove deletes path, if present.
func (fs *FileStore) Remove(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.files[path]; !exists {
		return
	}
	delete(fs.files, path)
	for i, p := range fs.order {
		if p == path {
			fs.order = append(fs.order[:i], fs.order[i+1:]...)
			break
		}
	}
}

// Ls renders the ls output per spec.md §8 scenario 3: "No files
// found\n" when empty, else the paths joined by "\n" with a trailing
// "\n".
func (fs *FileStore) Ls() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(fs.order) == 0 {
		return "No files found\n"
	}
	return strings.Join(fs.order, "\n") + "\n"
}
