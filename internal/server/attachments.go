// ABOUTME: HTTP handlers for evidence attachments.
// ABOUTME: Accepts multipart uploads with index-aligned captions under a request size limit.

package server

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
)

// Multipart field names of an evidence upload
const (
	FormFieldFiles    = "files"
	FormFieldCaptions = "captions"
)

func (s *Server) listAttachments(w http.ResponseWriter, r *http.Request) {
	attachments, err := s.findings.ListAttachments(r.Context(), r.PathValue("id"), viewerFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
}

func (s *Server) addAttachments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "add_attachments", err, "upload exceeds the size limit"))
			return
		}
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "add_attachments", err, "malformed multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploads, err := readUploads(r.MultipartForm.File[FormFieldFiles])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	added, err := s.findings.AddAttachments(r.Context(), r.PathValue("id"), viewerFromRequest(r), uploads, r.MultipartForm.Value[FormFieldCaptions])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"attachments": added})
}

// readUploads loads every file part. Content types are sniffed downstream rather than
// trusted from the part header.
func readUploads(headers []*multipart.FileHeader) ([]types.Upload, error) {
	uploads := make([]types.Upload, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "add_attachments", err, "unreadable file part")
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "add_attachments", err, "unreadable file part")
		}
		uploads = append(uploads, types.Upload{FileName: header.Filename, Data: data})
	}
	return uploads, nil
}

func (s *Server) attachmentContent(w http.ResponseWriter, r *http.Request) {
	attachment, data, err := s.findings.AttachmentContent(r.Context(), r.PathValue("id"), r.PathValue("attachmentID"), viewerFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", attachment.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": attachment.FileName}))
	if _, err := w.Write(data); err != nil {
		s.logger.WithError(err).WithField("attachment_id", attachment.ID).Debug("Failed to write attachment")
	}
}

func (s *Server) deleteAttachment(w http.ResponseWriter, r *http.Request) {
	err := s.findings.DeleteAttachment(r.Context(), r.PathValue("id"), r.PathValue("attachmentID"), viewerFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
