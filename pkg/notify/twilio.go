package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	api  messageCreator
	from string
}

// NewTwilioSender bounds each Messages API request with an HTTP timeout derived from
// sendTimeout, so a request always finishes before the caller's send deadline.
func NewTwilioSender(accountSID, authToken, from string, sendTimeout time.Duration) *TwilioSender {
	return &TwilioSender{api: newTwilioRestClient(accountSID, authToken, sendTimeout).Api, from: from}
}

func newTwilioRestClient(accountSID, authToken string, sendTimeout time.Duration) *twilio.RestClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	client.SetTimeout(TwilioRequestTimeout(sendTimeout))
	return client
}

// TwilioRequestTimeout leaves a fifth of the send timeout for outcome bookkeeping.
func TwilioRequestTimeout(sendTimeout time.Duration) time.Duration {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return sendTimeout - sendTimeout/5
}

// Send waits for the request's real outcome even once ctx is done. The HTTP timeout
// bounds the wait, and a message Twilio accepted is never reported as failed.
func (s *TwilioSender) Send(ctx context.Context, _ registry.Channel, destination, body string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo(destination)
	params.SetFrom(s.from)
	params.SetBody(body)

	done := make(chan error, 1)
	go func() {
		_, err := s.api.CreateMessage(params)
		done <- err
	}()

	select {
	case err := <-done:
		return classifyTwilio(destination, err)
	case <-ctx.Done():
	}
	err := <-done
	if err == nil {
		return nil
	}
	return classifyTwilio(destination, errors.Join(err, ctx.Err()))
}

func classifyTwilio(destination string, err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("twilio send to %s: %w", destination, err)
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) && restErr.Status >= 400 && restErr.Status < 500 && restErr.Status != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return Transient(err)
}
