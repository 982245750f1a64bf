package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/hiring"
)

const contentType = "application/json"

// HTTPChannel talks to the message-delivery simulator over HTTP.
type HTTPChannel struct {
	Endpoint   string
	HTTPClient *http.Client
	logger     *zap.Logger
}

// NewHTTPChannel creates a channel for the simulator at the given base URL.
func NewHTTPChannel(endpoint string, logger *zap.Logger) *HTTPChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPChannel{
		Endpoint: strings.TrimRight(endpoint, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type sendRequest struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

type sendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// Send posts the message to the simulator's per-candidate send endpoint.
func (c *HTTPChannel) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	payload, err := json.Marshal(sendRequest{
		MessageID: msg.ID,
		To:        msg.To,
		From:      msg.From,
		Subject:   msg.Subject,
		Message:   msg.Body,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/send-email/%s", c.Endpoint, msg.CandidateID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	c.logger.Debug("sending message",
		zap.String("url", url),
		zap.String("message_id", msg.ID),
	)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var body sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	status, err := hiring.ParseDeliveryStatus(body.Status)
	if err != nil {
		return nil, err
	}

	messageID := body.MessageID
	if messageID == "" {
		messageID = msg.ID
	}

	return &Receipt{Status: status, MessageID: messageID}, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// Status polls the simulator for the delivery outcome of a message.
func (c *HTTPChannel) Status(ctx context.Context, messageID string) (hiring.DeliveryStatus, error) {
	url := fmt.Sprintf("%s/status/%s", c.Endpoint, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	return hiring.ParseDeliveryStatus(body.Status)
}

// Cancel asks the simulator to drop a not-yet-delivered message. Best-effort:
// the message may already be in flight.
func (c *HTTPChannel) Cancel(ctx context.Context, messageID string) error {
	url := fmt.Sprintf("%s/cancel/%s", c.Endpoint, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	return nil
}
