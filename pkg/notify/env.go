package notify

import (
	"time"

	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/utils"
	"go.uber.org/zap"
)

// NewRouterFromEnv builds the production router:
//
//	TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM   enable SMS
//	NOTIFY_SEND_TIMEOUT                                  bounds each Twilio request
//	SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASSWORD,
//	SMTP_FROM, SMTP_SUBJECT                               enable email
//
// Unconfigured channels are logged instead of sent.
func NewRouterFromEnv(logger *zap.Logger) (*Router, error) {
	router := NewRouter(LogSender{Logger: logger.Named("notify")})

	if sid := utils.Env("TWILIO_ACCOUNT_SID", ""); sid != "" {
		router.Handle(registry.ChannelSMS, NewTwilioSender(sid, utils.Env("TWILIO_AUTH_TOKEN", ""), utils.Env("TWILIO_FROM", ""),
			utils.EnvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second)))
		logger.Info("SMS notifications enabled")
	}

	if host := utils.Env("SMTP_HOST", ""); host != "" {
		sender, err := NewSMTPSender(SMTPConfig{
			Host:     host,
			Port:     utils.EnvInt("SMTP_PORT", 587),
			Username: utils.Env("SMTP_USER", ""),
			Password: utils.Env("SMTP_PASSWORD", ""),
			From:     utils.Env("SMTP_FROM", "notifications@localhost"),
			Subject:  utils.Env("SMTP_SUBJECT", ""),
		})
		if err != nil {
			return nil, err
		}
		router.Handle(registry.ChannelEmail, sender)
		logger.Info("Email notifications enabled", zap.String("host", host))
	}
	return router, nil
}

// RecipientsFromEnv reads NOTIFY_SMS_TO and NOTIFY_EMAIL_TO (comma separated).
func RecipientsFromEnv(directory db.DirectoryStore) Recipients {
	return Recipients{
		Directory: directory,
		SMS:       utils.EnvList("NOTIFY_SMS_TO"),
		Email:     utils.EnvList("NOTIFY_EMAIL_TO"),
	}
}
