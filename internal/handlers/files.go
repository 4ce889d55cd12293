package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"cleanconvert/internal/batch"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/validate"
)

// uploadField is the multipart field carrying files.
const uploadField = "files"

// multipartOverhead is the allowance for part headers and boundaries on
// top of the largest accepted payload.
const multipartOverhead = 1 << 20

// UploadFiles adds the files of a multipart upload to the batch. Parts are
// streamed into memory one at a time; nothing is spooled to disk. Each part
// is read up to its size ceiling, so an oversized image is still reported
// by name with TooLarge.
func (h *Handlers) UploadFiles(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxArchiveSize+multipartOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		writeJSONError(w, "Expected a multipart/form-data upload", http.StatusBadRequest)
		return
	}

	var (
		files    []batch.InputFile
		rejected []batch.Rejection
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.uploadFailed(w, err)
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		f, rej, err := h.readPart(part)
		_ = part.Close()
		if err != nil {
			h.uploadFailed(w, err)
			return
		}
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		files = append(files, f)
	}

	report := h.batch.AddFiles(r.Context(), files)
	report.Rejected = append(rejected, report.Rejected...)
	if report.Added == nil {
		report.Added = []batch.Item{}
	}
	if report.Rejected == nil {
		report.Rejected = []batch.Rejection{}
	}
	if h.rejections != nil {
		for _, rej := range report.Rejected {
			h.rejections.ObserveRejection(rej.Code)
		}
	}

	h.log.Debug("Upload: %d added, %d rejected", len(report.Added), len(report.Rejected))
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) uploadFailed(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, errs.New(errs.TooLarge, "upload", err))
		return
	}
	h.log.Warn("Upload read failed: %v", err)
	writeJSONError(w, "Malformed upload", http.StatusBadRequest)
}

// readPart buffers one uploaded file. The declared type comes from the part
// header, or from the extension when the client sent none.
func (h *Handlers) readPart(part *multipart.Part) (batch.InputFile, *batch.Rejection, error) {
	name := part.FileName()
	mt := mediatypes.Normalize(part.Header.Get("Content-Type"))
	if mt == "" || mt == mediatypes.Unknown {
		mt = mediatypes.GetMimeType(mediatypes.Ext(name))
	}

	limit := h.cfg.MaxFileSize
	isArchive := mediatypes.IsArchive(name, mt)
	if isArchive {
		limit = h.cfg.MaxArchiveSize
	}

	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return batch.InputFile{}, nil, err
	}
	if int64(len(data)) <= limit {
		return validate.NewFile(name, mt, data), nil, nil
	}

	// drain so the next part can be read
	if _, err := io.Copy(io.Discard, part); err != nil {
		return batch.InputFile{}, nil, err
	}
	if isArchive {
		return batch.InputFile{}, &batch.Rejection{Name: name, Code: errs.TooLarge, Reason: errs.Message(errs.TooLarge)}, nil
	}
	return batch.InputFile{Name: name, MediaType: mt, Size: int64(len(data))}, nil, nil
}
