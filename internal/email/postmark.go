// Package email sends transactional mail through the Postmark API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/dukerupert/stayvia/internal/reminder"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream,omitempty"`
}

// SendOverdueNotice mails the overdue notification to a tenant, linking
// back to their payments page.
func (c *Client) SendOverdueNotice(ctx context.Context, to string, n reminder.Notification) error {
	link := c.baseURL + "/payments"
	if n.Data.PaymentID != "" {
		link += "?payment=" + n.Data.PaymentID
	}
	textBody := fmt.Sprintf("%s\n\nView your payments:\n%s", n.Body, link)
	htmlBody := fmt.Sprintf(
		`<p>%s</p><p><a href="%s">View your payments</a></p>`,
		html.EscapeString(n.Body), html.EscapeString(link),
	)
	return c.send(ctx, postmarkEmail{
		From:          c.fromEmail,
		To:            to,
		Subject:       n.Title,
		HtmlBody:      htmlBody,
		TextBody:      textBody,
		MessageStream: "outbound",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	if payload.To == "" {
		return fmt.Errorf("send email: missing recipient")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
