package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

// multipartOverhead is allowed on top of the file size for form boundaries and fields.
const multipartOverhead = 1 << 20

// readUpload parses the multipart "file" field into a dataset.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*core.Dataset, error) {
	maxSize := s.cfg.Import.MaxFileSize
	if maxSize <= 0 {
		maxSize = sheet.DefaultMaxFileSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, fmt.Errorf("%w: request exceeds %d bytes", sheet.ErrTooLarge, maxSize)
		}
		return nil, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	return sheet.Read(header.Filename, file, maxSize)
}

// handlePreview reports what an import of the uploaded file would do.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if _, ok := core.Get(entity); !ok {
		respondError(w, r, fmt.Errorf("%w: %s", core.ErrUnknownEntity, entity), http.StatusNotFound)
		return
	}

	ds, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	preview, err := s.service.Preview(r.Context(), entity, ds)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleImport starts an asynchronous import and returns its ID.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if _, ok := core.Get(entity); !ok {
		respondError(w, r, fmt.Errorf("%w: %s", core.ErrUnknownEntity, entity), http.StatusNotFound)
		return
	}

	ds, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	importID, err := s.service.StartImport(withClientIP(r.Context(), r), entity, ds)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Location", "/api/imports/"+importID)
	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": importID})
}

// handleImportStatus returns the latest progress snapshot.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetImportProgress(chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleImportProgress streams progress as Server-Sent Events until the import ends.
//
// The event ID is the number of committed batches. A reconnecting client that
// sends Last-Event-ID (or ?lastEventId=) skips batches it has already seen.
// A slow reader may miss intermediate events but always receives the
// terminal one.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	progressCh, err := s.service.SubscribeProgress(chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	lastSeen := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastSeen, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastSeen, _ = strconv.Atoi(v)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				rc.Flush()
				return
			}
			if p.BatchesDone <= lastSeen && !isTerminal(p.Phase) {
				continue
			}
			lastSeen = p.BatchesDone

			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.BatchesDone, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func isTerminal(phase core.ImportPhase) bool {
	switch phase {
	case core.PhaseComplete, core.PhaseFailed, core.PhaseCancelled:
		return true
	}
	return false
}

// handleImportResult waits for the import to finish and returns its result.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.GetImportResult(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "importID")); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
