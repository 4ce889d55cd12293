package batch

import (
	"context"
	"fmt"

	"cleanconvert/internal/archive"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/lifecycle"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/validate"
)

// Download is one converted file ready to save.
type Download struct {
	ItemID    string           `json:"itemId"`
	FileName  string           `json:"fileName"`
	MediaType string           `json:"mediaType"`
	Handle    lifecycle.Handle `json:"handle"`
	ETag      string           `json:"etag"`
	Data      []byte           `json:"-"`
}

// ArchiveDownload is a bundle of every completed item.
type ArchiveDownload struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Entries   int    `json:"entries"`
	Data      []byte `json:"-"`
}

// outputName derives "<original base>.<target extension>".
func outputName(name, mediaType string) string {
	base := mediatypes.BaseName(name)
	if base == "" {
		base = "image"
	}
	return validate.SanitizeFilename(base+"."+mediatypes.ExtensionFor(mediaType), 0)
}

// ArchiveName is the file name of the bundle built for a batch.
func ArchiveName(batchID string) string {
	return fmt.Sprintf("cleanconvert-batch-%s.zip", batchID)
}

// DownloadItem returns the converted file of a completed item.
func (b *Batch) DownloadItem(id string) (Download, error) {
	it, ok := b.Item(id)
	if !ok {
		return Download{}, errs.Newf(errs.NotFound, "download", "item %s", id)
	}
	return b.download(it)
}

func (b *Batch) download(it Item) (Download, error) {
	if it.Status != StatusCompleted || it.Result == nil {
		return Download{}, errs.Newf(errs.NotReady, "download", "%s is %s", it.Name, it.Status)
	}
	blob, ok := b.deps.Registry.Lookup(it.Result.Handle)
	if !ok {
		return Download{}, errs.Newf(errs.NotFound, "download", "result of %s was released", it.Name)
	}
	return Download{
		ItemID:    it.ID,
		FileName:  it.Result.FileName,
		MediaType: blob.MediaType,
		Handle:    blob.Handle,
		ETag:      blob.ETag,
		Data:      blob.Data,
	}, nil
}

// DownloadAllIndividually returns every completed item's file. Items that
// cannot be downloaded are reported as outcomes instead of aborting.
func (b *Batch) DownloadAllIndividually() ([]Download, []Outcome) {
	var (
		downloads []Download
		outcomes  []Outcome
	)
	for _, it := range b.Items() {
		d, err := b.download(it)
		if err != nil {
			outcomes = append(outcomes, skipped(it, err))
			continue
		}
		downloads = append(downloads, d)
		outcomes = append(outcomes, Outcome{ItemID: it.ID, Name: d.FileName, Outcome: OutcomeCompleted, UsedFallback: it.Result.UsedFallback})
	}
	return downloads, outcomes
}

// DownloadAllAsArchive packs every completed item into one bundle named
// after the batch. It fails with NotReady when nothing is completed.
func (b *Batch) DownloadAllAsArchive(ctx context.Context) (ArchiveDownload, []Outcome, error) {
	downloads, outcomes := b.DownloadAllIndividually()
	if len(downloads) == 0 {
		return ArchiveDownload{}, outcomes, errs.Newf(errs.NotReady, "archive", "no converted items")
	}
	if b.deps.Packer == nil {
		return ArchiveDownload{}, outcomes, errs.Newf(errs.EncodeFailed, "archive", "no packer configured")
	}

	entries := make([]archive.NamedBuffer, 0, len(downloads))
	for _, d := range downloads {
		entries = append(entries, archive.NamedBuffer{Name: d.FileName, Data: d.Data})
	}
	data, err := b.deps.Packer.Pack(ctx, entries)
	if err != nil {
		return ArchiveDownload{}, outcomes, err
	}
	return ArchiveDownload{
		FileName:  ArchiveName(b.id),
		MediaType: mediatypes.Zip,
		Entries:   len(entries),
		Data:      data,
	}, outcomes, nil
}

func skipped(it Item, err error) Outcome {
	return Outcome{ItemID: it.ID, Name: it.Name, Outcome: OutcomeSkipped, Code: errs.CodeOf(err), Reason: errs.Reason(err)}
}
