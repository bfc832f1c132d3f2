// Package twilio delivers outbound WhatsApp messages through the
// Twilio Messages API and validates inbound webhook signatures.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultAPIBase = "https://api.twilio.com"

// whatsappPrefix is what Twilio expects on both endpoints of a
// WhatsApp message. Callers pass bare E.164 numbers; the client adds
// the prefix.
const whatsappPrefix = "whatsapp:"

// SendRequest is one outbound message. All three fields are required.
type SendRequest struct {
	To   string
	From string
	Body string
}

// SendResult reports what Twilio accepted.
type SendResult struct {
	SID    string
	Status string
}

// Client sends messages for one Twilio account. A shared rate limiter
// keeps outbound volume under the account's messages-per-second cap.
type Client struct {
	accountSID string
	authToken  string
	apiBase    string
	httpc      *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a sender. messagesPerSecond bounds the send rate;
// zero or negative disables the limiter.
func NewClient(accountSID, authToken string, messagesPerSecond float64) *Client {
	var limiter *rate.Limiter
	if messagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(messagesPerSecond), 1)
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		apiBase:    defaultAPIBase,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
	}
}

// Send delivers one message. It does not retry: a failed or ambiguous
// POST may still have created a message, and a blind retry would send
// the user a duplicate.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	form := url.Values{}
	form.Set("To", withWhatsAppPrefix(req.To))
	form.Set("From", withWhatsAppPrefix(req.From))
	form.Set("Body", req.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.apiBase, c.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.SetBasicAuth(c.accountSID, c.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("twilio error %d: %s", apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("twilio status %d", resp.StatusCode)
	}

	var msg struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &SendResult{SID: msg.SID, Status: msg.Status}, nil
}

func (r SendRequest) validate() error {
	switch {
	case r.To == "":
		return errors.New("twilio: send request missing To")
	case r.From == "":
		return errors.New("twilio: send request missing From")
	case r.Body == "":
		return errors.New("twilio: send request missing Body")
	}
	return nil
}

func withWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}
