package events

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

type webhookPublisher struct {
	client *resty.Client
	url    string
}

func NewWebhookPublisher(url string) Publisher {
	return &webhookPublisher{client: resty.New(), url: url}
}

func (p *webhookPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}

	req := p.client.R().SetContext(ctx)
	req.Method = http.MethodPost
	req.URL = p.url
	req.SetHeader("Content-Type", "application/json")
	req.SetHeader("X-Event-Kind", string(e.Kind))
	req.SetBody(payload)
	resp, err := req.Send()
	if err != nil {
		return err
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("webhook status: %d", resp.StatusCode())
	}
}

func (p *webhookPublisher) Close() error {
	return nil
}
