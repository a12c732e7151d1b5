// Package bgremove calls an external subject-segmentation service to give a
// photographic raster a transparency channel.
package bgremove

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"avatar-pipeline/internal/imageops"
)

const defaultMaxResponse = 25 * 1024 * 1024

// Remote posts the raster as multipart "file" to a rembg-compatible endpoint
// and expects a PNG with alpha in return.
type Remote struct {
	url         string
	httpClient  *http.Client
	maxResponse int64
}

var _ imageops.BackgroundRemover = (*Remote)(nil)

func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Remote{
		url:         url,
		httpClient:  &http.Client{Timeout: timeout},
		maxResponse: defaultMaxResponse,
	}
}

// RemoveBackground uploads img and decodes the cut-out the service returns.
func (r *Remote) RemoveBackground(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := imageops.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "input.png")
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "image/png")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("background removal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("background removal: status %d", resp.StatusCode)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, r.maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("read background removal response: %w", err)
	}
	if int64(len(out)) > r.maxResponse {
		return nil, fmt.Errorf("background removal response too large (>%d bytes)", r.maxResponse)
	}
	return imageops.Decode(out)
}
