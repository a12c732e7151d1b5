package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"avatar-pipeline/internal/apperr"
)

// ErrAPIKeyNotSet is returned when no OpenAI key is configured.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY")

// OpenAI generates images with the image edit endpoint, passing the input
// photo as the reference image.
type OpenAI struct {
	client  openai.Client
	timeout time.Duration
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI builds a client. baseURL may be empty for the public API.
func NewOpenAI(apiKey, baseURL string, timeout time.Duration) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if timeout == 0 {
		timeout = 3 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), timeout: timeout}, nil
}

// Generate sends the reference and returns the decoded PNG bytes of the first image.
func (g *OpenAI) Generate(ctx context.Context, reference []byte, d Directives) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if d.Model == "" {
		d.Model = DefaultModel
	}
	if d.Size == "" {
		d.Size = DefaultSize
	}
	if d.Prompt == "" {
		d.Prompt = DefaultPrompt
	}

	resp, err := g.client.Images.Edit(ctx, openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(reference), "reference.png", http.DetectContentType(reference)),
		},
		Prompt:     d.Prompt,
		Model:      openai.ImageModel(d.Model),
		Size:       openai.ImageEditParamsSize(d.Size),
		Background: openai.ImageEditParamsBackgroundTransparent,
		N:          openai.Int(1),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError) {
			return nil, apperr.Transient("generate image", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Transient("generate image", err)
		}
		return nil, apperr.Pipeline("generate image", err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, apperr.Pipeline("generate image", apperr.ErrNoImageProduced)
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, apperr.Pipeline("generate image", fmt.Errorf("decode image payload: %w", err))
	}
	return img, nil
}
