// Package handlers implements the HTTP serving surface's routes: VOD
// playlist assembly from the index store and segment byte serving via the
// uploader, with a local sandboxed fallback read path.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/segmentpipe/segmentpipe/internal/index"
	"github.com/segmentpipe/segmentpipe/internal/playlist"
	"github.com/segmentpipe/segmentpipe/internal/storage"
)

// FileServer serves the three HTTP routes: the VOD playlist, segment byte
// reads, and a static index page.
type FileServer struct {
	store    *index.Store
	uploader segmentReader
	sandbox  *storage.Sandbox
	logger   *slog.Logger
}

// segmentReader matches uploader.Uploader.ReadChunk's signature.
type segmentReader interface {
	ReadChunk(ctx context.Context, name string) ([]byte, error)
}

// NewFileServer builds a FileServer. sandbox roots the local-fallback read
// path at the pipeline's output directory: /files/{id} falls back to the
// local sandboxed path before returning 502 if the remote GET fails.
func NewFileServer(store *index.Store, uploader segmentReader, sandbox *storage.Sandbox, logger *slog.Logger) *FileServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileServer{store: store, uploader: uploader, sandbox: sandbox, logger: logger}
}

// Register mounts the VOD, segment-byte, and static routes.
func (f *FileServer) Register(router *chi.Mux) {
	router.Get("/vod", f.serveVOD)
	router.Get("/files/{id}", f.serveFile)
	router.Get("/files", f.serveFilesIndex)
}

// serveVOD builds and serves the HLS VOD playlist for the requested time
// range: GET /vod?start_time=<RFC3339>&end_time=<RFC3339>.
func (f *FileServer) serveVOD(w http.ResponseWriter, r *http.Request) {
	start, err := parseRFC3339(r.URL.Query().Get("start_time"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid start_time: %v", err), http.StatusBadRequest)
		return
	}
	end, err := parseRFC3339(r.URL.Query().Get("end_time"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid end_time: %v", err), http.StatusBadRequest)
		return
	}

	rows, err := f.store.Query(r.Context(), start, end)
	if err != nil {
		f.logger.Error("querying index for playlist", slog.String("error", err.Error()))
		http.Error(w, "failed to query index", http.StatusInternalServerError)
		return
	}

	body := playlist.Build(rows)
	w.Header().Set("Content-Type", "application/x-mpegURL")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// serveFile serves a segment's bytes: GET /files/{id}. It reads from the
// object store first; on failure it falls back to the local sandboxed
// copy before returning a 502.
func (f *FileServer) serveFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") || filepath.Clean(id) != id {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}

	data, err := f.uploader.ReadChunk(r.Context(), id)
	if err != nil {
		f.logger.Warn("remote read failed, attempting local fallback",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		data, err = f.sandbox.ReadFile(id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				http.Error(w, fmt.Sprintf("segment %s not found", id), http.StatusNotFound)
				return
			}
			f.logger.Error("local fallback read failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			http.Error(w, "failed to read segment", http.StatusBadGateway)
			return
		}
	}

	w.Header().Set("Content-Type", "video/MP2T")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// serveFilesIndex serves GET /files: a static, peripheral response.
func (f *FileServer) serveFilesIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("segmentpipe file server\n"))
}

func parseRFC3339(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
