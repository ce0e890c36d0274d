package api

import (
	"bytes"
	"context"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"

	"molva/internal/models"
)

// UploadFile posts raw file bytes to the file endpoint and returns the
// attachment descriptor to send with a message. The MIME type is
// sniffed from the content, not the file name.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (models.Attachment, error) {
	kind, err := filetype.Match(data)
	if err != nil {
		return models.Attachment{}, errors.Wrap(err, "failed to detect file type")
	}

	attType := models.AttachmentTypeFile
	mime := "application/octet-stream"
	if kind != filetype.Unknown {
		mime = kind.MIME.Value
		if kind.MIME.Type == "image" {
			attType = models.AttachmentTypeImage
		}
	}

	var out models.Attachment
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(data)).
		SetResult(&out).
		SetError(&errBody).
		Post("/api/files")
	if err != nil {
		return models.Attachment{}, errors.Wrap(err, "upload request failed")
	}
	if resp.IsError() {
		return models.Attachment{}, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}

	out.Name = name
	out.MimeType = mime
	out.Type = attType
	return out, nil
}
