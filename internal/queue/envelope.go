package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"avatar-pipeline/internal/apperr"
)

// Envelope is a push-subscription style notification. Message.Data is the
// base64 encoding of the job id.
type Envelope struct {
	Message      *Message `json:"message"`
	Subscription string   `json:"subscription,omitempty"`
}

type Message struct {
	Data        string    `json:"data"`
	MessageID   string    `json:"messageId,omitempty"`
	PublishTime time.Time `json:"publishTime,omitempty"`
}

// NewEnvelope wraps a job id for publishing.
func NewEnvelope(jobID string, now time.Time) Envelope {
	return Envelope{Message: &Message{
		Data:        base64.StdEncoding.EncodeToString([]byte(jobID)),
		MessageID:   uuid.NewString(),
		PublishTime: now.UTC(),
	}}
}

// JobID decodes the job id carried by the envelope.
func (e Envelope) JobID() (string, error) {
	if e.Message == nil {
		return "", apperr.Admission("decode envelope", fmt.Errorf("%w: missing message", apperr.ErrMalformedEnvelope))
	}
	if e.Message.Data == "" {
		return "", apperr.Admission("decode envelope", fmt.Errorf("%w: missing message.data", apperr.ErrMalformedEnvelope))
	}
	raw, err := base64.StdEncoding.DecodeString(e.Message.Data)
	if err != nil {
		return "", apperr.Admission("decode envelope", fmt.Errorf("%w: %v", apperr.ErrMalformedEnvelope, err))
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return "", apperr.Admission("decode envelope", fmt.Errorf("%w: empty job id", apperr.ErrMalformedEnvelope))
	}
	return id, nil
}

// DecodeEnvelope parses a JSON notification body and returns the job id.
func DecodeEnvelope(body []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", apperr.Admission("decode envelope", fmt.Errorf("%w: %v", apperr.ErrMalformedEnvelope, err))
	}
	return env.JobID()
}
