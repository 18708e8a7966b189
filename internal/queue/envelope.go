package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/praxislabs/session-notifier/internal/domain"
)

// EnvelopeVersion is bumped whenever the outbound payload shape
// changes. Callbacks echo the envelope back, so both sides of the
// round trip must agree on one explicit versioned type.
const EnvelopeVersion = 1

type EnvelopeKind string

const (
	EnvelopeKindBatch  EnvelopeKind = "batch"
	EnvelopeKindSingle EnvelopeKind = "single"
)

// EnvelopeJob carries what the delivery worker needs to address one
// recipient, plus the ids the callback path needs to find the job again.
type EnvelopeJob struct {
	JobID          string `json:"job_id"`
	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name,omitempty"`
}

// Envelope is the JSON payload published to the delivery worker. The
// queue does not correlate requests to domain records on its own; the
// envelope embedded in the callback body is the only join key.
type Envelope struct {
	Version   int                     `json:"v"`
	Kind      EnvelopeKind            `json:"kind"`
	BatchID   string                  `json:"batch_id"`
	SessionID string                  `json:"session_id"`
	Type      domain.NotificationType `json:"type"`
	Jobs      []EnvelopeJob           `json:"jobs"`
}

func NewBatchEnvelope(batchID, sessionID string, notificationType domain.NotificationType, jobs []*domain.Job) Envelope {
	envelopeJobs := make([]EnvelopeJob, 0, len(jobs))
	for _, job := range jobs {
		envelopeJobs = append(envelopeJobs, EnvelopeJob{
			JobID:          job.ID,
			RecipientEmail: job.RecipientEmail,
			RecipientName:  job.RecipientName,
		})
	}
	return Envelope{
		Version:   EnvelopeVersion,
		Kind:      EnvelopeKindBatch,
		BatchID:   batchID,
		SessionID: sessionID,
		Type:      notificationType,
		Jobs:      envelopeJobs,
	}
}

func NewSingleEnvelope(job *domain.Job) Envelope {
	return Envelope{
		Version:   EnvelopeVersion,
		Kind:      EnvelopeKindSingle,
		BatchID:   job.BatchID,
		SessionID: job.SessionID,
		Type:      job.Type,
		Jobs: []EnvelopeJob{{
			JobID:          job.ID,
			RecipientEmail: job.RecipientEmail,
			RecipientName:  job.RecipientName,
		}},
	}
}

func (e Envelope) Encode() ([]byte, error) {
	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return encoded, nil
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}
	if envelope.Kind != EnvelopeKindBatch && envelope.Kind != EnvelopeKindSingle {
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", envelope.Kind)
	}
	if len(envelope.Jobs) == 0 {
		return Envelope{}, fmt.Errorf("envelope has no jobs")
	}
	return envelope, nil
}

// CallbackRequest is the body the queue POSTs to the callback and
// failure-callback URLs. SourceBody is the base64 original envelope,
// Body the base64 worker (or error) response.
type CallbackRequest struct {
	MessageID  string `json:"message_id"`
	Status     int    `json:"status"`
	Retried    int    `json:"retried"`
	SourceBody string `json:"source_body"`
	Body       string `json:"body"`
}

func (c CallbackRequest) DecodeSource() (Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(c.SourceBody)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode source body: %w", err)
	}
	return DecodeEnvelope(raw)
}

func (c CallbackRequest) DecodeBody() ([]byte, error) {
	if c.Body == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(c.Body)
	if err != nil {
		return nil, fmt.Errorf("decode callback body: %w", err)
	}
	return raw, nil
}

// NewCallbackRequest builds the callback body for a fired message.
func NewCallbackRequest(messageID string, status, retried int, sourceBody, responseBody []byte) CallbackRequest {
	return CallbackRequest{
		MessageID:  messageID,
		Status:     status,
		Retried:    retried,
		SourceBody: base64.StdEncoding.EncodeToString(sourceBody),
		Body:       base64.StdEncoding.EncodeToString(responseBody),
	}
}
