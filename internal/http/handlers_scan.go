package http

import (
	"errors"
	"io"
	"net/http"

	"spesa/internal/core"
	applog "spesa/internal/log"
	"spesa/internal/scanner"
)

// multipartSlack covers the form overhead around the image itself.
const multipartSlack = 64 << 10

// handleScanReceipt accepts one image in the "files" field and returns the
// scanned lines, all unassigned.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartSlack)
	if err := r.ParseMultipartForm(s.maxUpload + multipartSlack); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			TooLargeError(s.maxUpload).Write(w)
			return
		}
		if errors.Is(err, http.ErrNotMultipart) {
			BadRequestError(MsgNoFile).Write(w)
			return
		}
		BadRequestError("Invalid upload: " + err.Error()).Write(w)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("files")
	if err != nil {
		BadRequestError(MsgNoFile).Write(w)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		InternalServerError("Failed to read upload: " + err.Error()).Write(w)
		return
	}
	if int64(len(data)) > s.maxUpload {
		TooLargeError(s.maxUpload).Write(w)
		return
	}
	if len(data) == 0 {
		BadRequestError(MsgNoFile).Write(w)
		return
	}

	img := core.ReceiptImage{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	res, err := s.svc.ScanReceipt(r.Context(), img, sanitizeInput(r.FormValue("language")))
	switch {
	case errors.Is(err, scanner.ErrNoImage):
		BadRequestError(MsgNoFile).Write(w)
		return
	case errors.Is(err, scanner.ErrImageTooLarge):
		TooLargeError(s.maxUpload).Write(w)
		return
	case err != nil:
		s.writeServiceError(w, r, applog.OpScan, err)
		return
	}

	body := map[string]any{"items": toAssignedItems(res.Items)}
	if res.Notice != "" {
		body["notice"] = res.Notice
	}
	NewResponse().JSON(body).Write(w)
}
