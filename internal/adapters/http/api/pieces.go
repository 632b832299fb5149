package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/etude/internal/adapters/ingest"
	"github.com/okian/etude/pkg/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	multipartMemory  = 8 << 20
)

// handleImportPiece handles POST /pieces. The body is multipart with a
// "sheet" file (PDF or image) and an optional "title".
func (s *Server) handleImportPiece(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	form := pieceForm{Title: r.FormValue("title")}
	if err := s.validate.Struct(form); err != nil {
		s.writeError(w, r, err)
		return
	}
	name, data, err := s.readFile(r, "sheet")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := ingest.SheetSource(name, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	piece, err := s.deps.ImportPiece(r.Context(), form.Title, src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/pieces/"+piece.ID)
	writeJSON(w, http.StatusCreated, piece)
}

// handleListPieces handles GET /pieces?limit=&offset=.
func (s *Server) handleListPieces(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pieces, err := s.deps.Pieces(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pieces)
}

// handleGetPiece handles GET /pieces/{id}.
func (s *Server) handleGetPiece(w http.ResponseWriter, r *http.Request) {
	piece, err := s.deps.Piece(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, piece)
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// readFile returns the name and contents of one uploaded file field.
func (s *Server) readFile(r *http.Request, field string) (string, []byte, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
		return "", nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn(r.Context(), "close upload", logger.Error(cerr))
		}
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return hdr.Filename, data, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, key)
	}
	if key == "limit" && n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
