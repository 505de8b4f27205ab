package storage

import (
	"context"
	"net/http"

	"telecare/internal/domain"
)

// AttachmentStore uploads chat attachments and shapes the result for the
// message ledger. Progress is reported in whole percents; with a single
// PutObject call the useful milestones are start and completion.
type AttachmentStore struct {
	files FileStorage
}

func NewAttachmentStore(files FileStorage) *AttachmentStore {
	return &AttachmentStore{files: files}
}

func (a *AttachmentStore) Upload(ctx context.Context, filename string, data []byte, progress func(pct int)) (*domain.Attachment, error) {
	if progress != nil {
		progress(0)
	}

	url, err := a.files.UploadFile(ctx, data, filename)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress(100)
	}

	return &domain.Attachment{
		URL:         url,
		Name:        filename,
		Size:        int64(len(data)),
		ContentType: http.DetectContentType(data),
	}, nil
}
