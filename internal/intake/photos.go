package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
	"go.uber.org/zap"
)

var imageContentType = regexp.MustCompile(`(?i)image/(png|jpeg|jpg)`)

var (
	errNotImage   = errors.New("intake: photo is not a png or jpeg image")
	errEmptyPhoto = errors.New("intake: photo is empty")
)

// Upload is a file sent directly with an intake request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type photoSource struct {
	URL        string
	DocumentID string
	Filename   string
	MimeType   string
	upload     *Upload
}

// FileExtension maps a MIME type to the extension ServiceM8 stores as file_type.
func FileExtension(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	default:
		return ".dat"
	}
}

// crmPhotos lists image files from the contact's file-upload custom fields,
// falling back to the contact attachment listing when there are none.
func (h *JobIntake) crmPhotos(ctx context.Context, logger *zap.Logger, contactID string, contact *ghl.Contact) []photoSource {
	var photos []photoSource
	stamp := h.clock().UnixMilli()
	if contact != nil {
		for _, field := range contact.Fields() {
			for _, entry := range field.Files() {
				if !imageContentType.MatchString(entry.MimeType) {
					continue
				}
				filename := strings.TrimSpace(entry.OriginalName)
				if filename == "" {
					filename = fmt.Sprintf("photo-%s-%d%s", entry.Key, stamp, FileExtension(entry.MimeType))
				}
				photos = append(photos, photoSource{URL: entry.URL, DocumentID: entry.DocumentID, Filename: filename, MimeType: entry.MimeType})
			}
		}
	}
	if len(photos) > 0 {
		return photos
	}

	attachments, err := h.crm.ListContactAttachments(ctx, contactID)
	if err != nil {
		logger.Info("ghl attachments unavailable", zap.Error(err))
		return nil
	}
	for index, attachment := range attachments {
		if strings.TrimSpace(attachment.URL) == "" || !imageContentType.MatchString(attachment.MimeType) {
			continue
		}
		documentID := strings.TrimSpace(attachment.DocumentID)
		if documentID == "" {
			documentID = path.Base(attachment.URL)
		}
		filename := strings.TrimSpace(attachment.Filename)
		if filename == "" {
			filename = fmt.Sprintf("attachment-%d-%d%s", index+1, stamp, FileExtension(attachment.MimeType))
		}
		photos = append(photos, photoSource{URL: attachment.URL, DocumentID: documentID, Filename: filename, MimeType: attachment.MimeType})
	}
	return photos
}

func uploadedPhotos(uploads []Upload) []photoSource {
	photos := make([]photoSource, 0, len(uploads))
	for i := range uploads {
		upload := &uploads[i]
		contentType := strings.TrimSpace(upload.ContentType)
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(upload.Data)
		}
		filename := strings.TrimSpace(upload.Filename)
		if filename == "" {
			filename = fmt.Sprintf("upload-%d%s", i+1, FileExtension(contentType))
		}
		photos = append(photos, photoSource{Filename: filename, MimeType: contentType, upload: upload})
	}
	return photos
}

// attachPhoto copies one photo onto the job as an attachment record plus its binary.
func (h *JobIntake) attachPhoto(ctx context.Context, jobUUID string, photo photoSource) (string, error) {
	var (
		data        []byte
		contentType string
	)
	if photo.upload != nil {
		data = photo.upload.Data
		contentType = photo.MimeType
	} else {
		download, err := h.crm.DownloadDocument(ctx, photo.DocumentID, photo.URL, h.maxPhotoBytes)
		if err != nil {
			return "", fmt.Errorf("download: %w", err)
		}
		data = download.Data
		contentType = download.ContentType
	}
	if !imageContentType.MatchString(contentType) {
		return "", fmt.Errorf("%w: %q", errNotImage, contentType)
	}
	if len(data) == 0 {
		return "", errEmptyPhoto
	}

	mimeType := photo.MimeType
	if strings.TrimSpace(mimeType) == "" {
		mimeType = contentType
	}
	attachmentUUID, err := h.fsm.CreateAttachment(ctx, servicem8.Attachment{
		RelatedObject:     "job",
		RelatedObjectUUID: jobUUID,
		AttachmentName:    photo.Filename,
		FileType:          FileExtension(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	if err := h.fsm.UploadAttachmentFile(ctx, attachmentUUID, data); err != nil {
		return attachmentUUID, fmt.Errorf("upload attachment %s: %w", attachmentUUID, err)
	}
	return attachmentUUID, nil
}
