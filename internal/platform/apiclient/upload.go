package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
)

// File is one part of a multipart upload.
type File struct {
	Field   string
	Name    string
	Content io.Reader
}

// Upload POSTs a multipart form with the given file and plain fields.
func (c *Client) Upload(ctx context.Context, path string, file File, fields map[string]string, opts ...RequestOption) (*Response, error) {
	if file.Field == "" {
		file.Field = "file"
	}
	if file.Content == nil {
		return nil, fmt.Errorf("apiclient: upload %s: no file content", path)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("apiclient: upload field %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile(file.Field, file.Name)
	if err != nil {
		return nil, fmt.Errorf("apiclient: upload %s: %w", path, err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, fmt.Errorf("apiclient: upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("apiclient: upload %s: %w", path, err)
	}

	return c.send(ctx, http.MethodPost, path, buf.Bytes(), w.FormDataContentType(), opts)
}
