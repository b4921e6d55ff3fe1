package notify

import (
	"net/http"

	"github.com/NordCoder/Beacon/internal/domain/channel"
	"go.uber.org/zap"
)

type Endpoints struct {
	ChatAppAPI      string            `mapstructure:"chat_app_api"`
	PagerDutyURL    string            `mapstructure:"pagerduty_url"`
	OpsgenieRegions map[string]string `mapstructure:"opsgenie_regions"`
	TelegramToken   string            `mapstructure:"telegram_token"`
	TelegramAPI     string            `mapstructure:"telegram_api"`
}

// NewRegistry wires every built-in channel kind.
func NewRegistry(client *http.Client, mailer EmailSender, ep Endpoints, log *zap.Logger) Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return Registry{
		channel.KindEmail:       &Email{Sender: mailer},
		channel.KindChatWebhook: &ChatWebhook{Client: client},
		channel.KindChatApp:     &ChatApp{Client: client, BaseURL: ep.ChatAppAPI},
		channel.KindPagerDuty:   &PagerDuty{Client: client, URL: ep.PagerDutyURL},
		channel.KindOpsgenie:    &Opsgenie{Client: client, Regions: ep.OpsgenieRegions},
		channel.KindWebhook:     &Webhook{Client: client, Log: log.With(zap.String("component", "notify.webhook"))},
		channel.KindTelegram:    &Telegram{Client: client, Token: ep.TelegramToken, APIURL: ep.TelegramAPI},
	}
}
