package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type httpWebhookService struct {
	client *http.Client
}

func NewWebhookService(client *http.Client) WebhookService {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpWebhookService{client: client}
}

func (s *httpWebhookService) Send(ctx context.Context, url string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s responded %s", url, resp.Status)
	}
	return nil
}

type webhookNotifier struct {
	svc WebhookService
	url string
}

// NewWebhookNotifier 以 {"text": ...} 的形式推送, 兼容常见聊天机器人 webhook
func NewWebhookNotifier(svc WebhookService, url string) Notifier {
	return &webhookNotifier{svc: svc, url: url}
}

func (w *webhookNotifier) Notify(ctx context.Context, event Event) error {
	return w.svc.Send(ctx, w.url, map[string]any{
		"text": event.Message(),
		"kind": string(event.Kind),
		"at":   event.At,
	})
}

func (w *webhookNotifier) Name() string {
	return "webhook"
}
