package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"farmer-auth/internal/config"
)

// messageCreator is the slice of the Twilio API service used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioNotifier struct {
	api         messageCreator
	fromPhone   string
	countryCode string
	validFor    time.Duration
}

func NewTwilioNotifier(cfg *config.Config) *TwilioNotifier {
	twClient := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.Notify.TwilioAccountSID,
		Password: cfg.Notify.TwilioAuthToken,
	})
	return newTwilioNotifier(twClient.Api, cfg.Notify.TwilioFromPhone, cfg.Notify.CountryCode, cfg.Auth.OTPExpiry)
}

func newTwilioNotifier(api messageCreator, from, countryCode string, validFor time.Duration) *TwilioNotifier {
	return &TwilioNotifier{
		api:         api,
		fromPhone:   from,
		countryCode: countryCode,
		validFor:    validFor,
	}
}

// e164 prefixes the domestic ten-digit number with the configured country code.
func (n *TwilioNotifier) e164(phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return n.countryCode + phone
}

func (n *TwilioNotifier) Deliver(ctx context.Context, phone, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.e164(phone))
	params.SetFrom(n.fromPhone)
	params.SetBody(MessageText(code, n.validFor))

	if _, err := n.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}
	return nil
}
