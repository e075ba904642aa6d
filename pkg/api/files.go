package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/ingest"
	"github.com/tomehq/tome/pkg/types"
)

// presignExpiry bounds download links. Links die after an hour no matter
// what the client asks for.
const presignExpiry = time.Hour

// handleUpload accepts one multipart file plus a domain_id field and queues
// it for ingestion. Oversize payloads map to 413, unsupported content to
// 415, and re-uploads of identical content to 409.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if s.ingest == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}

	// Cap the whole request body; the multipart framing rides on top of
	// the document limit.
	if s.uploadMax > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.uploadMax+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, uploadSizeErr(err))
		return
	}

	raw := r.FormValue("domain_id")
	if raw == "" {
		writeError(w, r, fmt.Errorf("domain_id is required: %w", errdefs.ErrBadRequest))
		return
	}
	domainID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, fmt.Errorf("invalid domain_id: %w", errdefs.ErrBadRequest))
		return
	}

	domain, err := s.store.GetDomain(r.Context(), claims.OrgID, domainID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.RequireDomain(claims, auth.PermFilesWrite, domain); err != nil {
		writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("multipart field %q is required: %w", "file", errdefs.ErrBadRequest))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, uploadSizeErr(err))
		return
	}

	doc, err := s.ingest.Upload(r.Context(), ingest.UploadInput{
		OrgID:      claims.OrgID,
		DomainID:   domain.ID,
		Filename:   header.Filename,
		Data:       data,
		Source:     types.SourceFile,
		UploadedBy: &claims.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// uploadSizeErr maps a body-cap overrun to the taxonomy's 413.
func uploadSizeErr(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return fmt.Errorf("upload exceeds %d bytes: %w", tooBig.Limit, errdefs.ErrTooLarge)
	}
	return fmt.Errorf("malformed upload: %v: %w", err, errdefs.ErrBadRequest)
}

type fileListResponse struct {
	Files []*types.Document `json:"files"`
	Total int               `json:"total"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	domainID, err := queryUUID(r, "domain")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if domainID == uuid.Nil {
		writeError(w, r, fmt.Errorf("domain query parameter is required: %w", errdefs.ErrBadRequest))
		return
	}
	domain, err := s.store.GetDomain(r.Context(), claims.OrgID, domainID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.RequireDomain(claims, auth.PermFilesRead, domain); err != nil {
		writeError(w, r, err)
		return
	}

	status := types.DocumentStatus(r.URL.Query().Get("status"))
	limit, offset := parseLimit(r, 50, 200)
	docs, total, err := s.store.ListDocuments(r.Context(), claims.OrgID, domain.ID, status, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileListResponse{Files: docs, Total: total})
}

// loadDocument resolves {fileID} and checks the given permission against
// the document's domain.
func (s *Server) loadDocument(r *http.Request, perm auth.Permission) (*types.Document, error) {
	claims := claimsFrom(r)
	fileID, err := pathUUID(r, "fileID")
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(r.Context(), claims.OrgID, fileID)
	if err != nil {
		return nil, err
	}
	domain, err := s.store.GetDomain(r.Context(), claims.OrgID, doc.DomainID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireDomain(claims, perm, domain); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	doc, err := s.loadDocument(r, auth.PermFilesRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	doc, err := s.loadDocument(r, auth.PermFilesWrite)
	if err != nil {
		writeError(w, r, err)
		return
	}
	claims := claimsFrom(r)
	if err := s.ingest.DeleteDocument(r.Context(), claims.OrgID, doc.ID, &claims.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type downloadResponse struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// handleDownloadFile hands out a presigned object-store URL instead of
// proxying bytes through the API.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	if s.blob == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	doc, err := s.loadDocument(r, auth.PermFilesRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if doc.StoragePath == "" {
		writeError(w, r, fmt.Errorf("document has no stored content: %w", errdefs.ErrNotFound))
		return
	}
	u, ttl, err := s.blob.PresignedGet(r.Context(), doc.StoragePath, presignExpiry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{DownloadURL: u.String(), ExpiresIn: int64(ttl.Seconds())})
}
