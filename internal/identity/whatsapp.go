package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTemplate = "Seu código de verificação Respira Kids é {code}. Ele expira às {expires}."

// WhatsAppSender posts verification messages to a WhatsApp HTTP gateway.
type WhatsAppSender struct {
	baseURL    string
	instance   string
	apiKey     string
	template   string
	location   *time.Location
	httpClient *http.Client
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// NewWhatsAppSender constructs a sender for the gateway at baseURL.
func NewWhatsAppSender(baseURL, instance, apiKey, template string, timeout time.Duration) *WhatsAppSender {
	if template == "" {
		template = defaultTemplate
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instance:   instance,
		apiKey:     apiKey,
		template:   template,
		location:   time.Local,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseLocation sets the timezone the expiry time is rendered in.
func (s *WhatsAppSender) UseLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

// SendCode implements CodeSender.
func (s *WhatsAppSender) SendCode(ctx context.Context, jid, code string, expiresAt time.Time) error {
	text := strings.NewReplacer(
		"{code}", code,
		"{expires}", expiresAt.In(s.location).Format("15:04"),
	).Replace(s.template)

	body, err := json.Marshal(sendTextRequest{
		Number: strings.TrimSuffix(jid, jidSuffix),
		Text:   text,
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/message/sendText/%s", s.baseURL, url.PathEscape(s.instance))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp gateway http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
