package handlers

import (
	"bytes"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"cleanconvert/internal/batch"
	"cleanconvert/internal/lifecycle"
)

// skippedHeader carries how many items an archive left out.
const skippedHeader = "X-Skipped-Items"

// DownloadLink points at one converted file served from /blob.
type DownloadLink struct {
	ItemID    string `json:"itemId"`
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	ETag      string `json:"etag"`
	Size      int    `json:"size"`
}

// DownloadsResponse lists every downloadable file and what was skipped.
type DownloadsResponse struct {
	Files    []DownloadLink  `json:"files"`
	Outcomes []batch.Outcome `json:"outcomes"`
}

// blobURL is the path a handle is served under.
func blobURL(h lifecycle.Handle) string {
	return "/blob/" + strings.TrimPrefix(string(h), lifecycle.HandlePrefix)
}

func attachment(w http.ResponseWriter, name, mediaType, etag string) {
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
}

// DownloadItem sends one converted file as an attachment.
func (h *Handlers) DownloadItem(w http.ResponseWriter, r *http.Request) {
	d, err := h.batch.DownloadItem(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	attachment(w, d.FileName, d.MediaType, d.ETag)
	w.Header().Set("Cache-Control", "private, no-cache")
	http.ServeContent(w, r, d.FileName, time.Time{}, bytes.NewReader(d.Data))
}

// ListDownloads returns a link per completed item so a client can save
// them one at a time.
func (h *Handlers) ListDownloads(w http.ResponseWriter, _ *http.Request) {
	downloads, outcomes := h.batch.DownloadAllIndividually()
	resp := DownloadsResponse{Files: make([]DownloadLink, 0, len(downloads)), Outcomes: outcomes}
	for _, d := range downloads {
		resp.Files = append(resp.Files, DownloadLink{
			ItemID:    d.ItemID,
			FileName:  d.FileName,
			MediaType: d.MediaType,
			URL:       blobURL(d.Handle),
			ETag:      d.ETag,
			Size:      len(d.Data),
		})
	}
	if resp.Outcomes == nil {
		resp.Outcomes = []batch.Outcome{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DownloadArchive sends every completed item as one zip.
func (h *Handlers) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	a, outcomes, err := h.batch.DownloadAllAsArchive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	skipped := 0
	for _, o := range outcomes {
		if o.Outcome == batch.OutcomeSkipped {
			skipped++
		}
	}
	h.log.Debug("Archive %s: %d entries, %d skipped", a.FileName, a.Entries, skipped)

	attachment(w, a.FileName, a.MediaType, "")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(skippedHeader, strconv.Itoa(skipped))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(a.Data)
	}
}
