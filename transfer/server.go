/*
Copyright (c) Seekmesh Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package transfer implements the bulk-download collaborator: a plain
request/response stream server that hands out file bytes once a search has
located a peer holding them. It never mediates or observes the search
itself.
*/
package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// FileHashHeader carries the SHA-256 hex digest of the served file
// alongside its bytes.
const FileHashHeader = "X-File-Hash"

// Server serves GET /download/<filename> for every name present in its
// local index, rooted at Dir, and supports graceful shutdown via Stop.
type Server struct {
	// Dir is the local directory holding the files this node can serve.
	Dir string
	// Index lists the filenames eligible for download; a request for any
	// other name is a 404 even if the file happens to exist on disk.
	Index []string

	port int
	srv  *http.Server
}

// NewServer returns a Server bound to dir, serving only the names in
// index, listening on port when Start is called.
func NewServer(dir string, index []string, port int) *Server {
	return &Server{Dir: dir, Index: index, port: port}
}

func (s *Server) indexed(filename string) bool {
	for _, name := range s.Index {
		if name == filename {
			return true
		}
	}
	return false
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if filename == "" || !s.indexed(filename) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(s.Dir, filepath.Base(filename))
	data, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("transfer: read %s: %v", path, err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	sum := sha256.Sum256(data)
	w.Header().Set(FileHashHeader, hex.EncodeToString(sum[:]))
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		log.Errorf("transfer: write response for %s: %v", filename, err)
	}
}

// Start launches the HTTP server in the background and returns
// immediately.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /download/{filename}", s.handleDownload)
	addr := fmt.Sprintf(":%d", s.port)
	s.srv = &http.Server{Addr: addr, Handler: mux}

	log.Infof("transfer: starting bulk file server on %s", addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("transfer: server stopped: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server, letting in-flight downloads
// finish or ctx expire.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
