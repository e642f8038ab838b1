package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Email template types accepted by the email collaborator.
const (
	TemplateNewMessage = "new_message"
)

// EmailSender is the fire-and-forget contract with the external email
// dispatch service.
type EmailSender interface {
	Send(ctx context.Context, template, to string, data map[string]string) error
}

// HTTPEmailSender posts {type, to, data} JSON to the email service endpoint.
type HTTPEmailSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEmailSender creates a sender for the given endpoint URL.
func NewHTTPEmailSender(endpoint string) *HTTPEmailSender {
	return &HTTPEmailSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the email request. Non-2xx responses are errors.
func (s *HTTPEmailSender) Send(ctx context.Context, template, to string, data map[string]string) error {
	payload, err := json.Marshal(struct {
		Type string            `json:"type"`
		To   string            `json:"to"`
		Data map[string]string `json:"data"`
	}{Type: template, To: to, Data: data})
	if err != nil {
		return fmt.Errorf("notify: marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: email service returned %s", resp.Status)
	}
	return nil
}
