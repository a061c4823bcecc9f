package bootstrap

import (
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/notify"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// BuildEmailSender picks the email provider named in config. ses may be nil
// unless the provider is "ses". The returned reason explains a fallback to
// the logging sender.
func BuildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewLogEmailSender(logger), "missing config"
	}
	switch cfg.Provider() {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			return notify.NewLogEmailSender(logger), "SENDGRID_API_KEY not set"
		}
		return sender, ""
	case "ses":
		sender := notify.NewSESSender(ses, notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			return notify.NewLogEmailSender(logger), "SES client unavailable"
		}
		return sender, ""
	default:
		return notify.NewLogEmailSender(logger), "email disabled"
	}
}

// Dispatch is the push wiring for one process.
type Dispatch struct {
	Hub        *notify.Hub
	Dispatcher notify.Dispatcher
	// Relay is set when Redis is configured and must be started.
	Relay *notify.RedisRelay
}

// BuildDispatch composes push delivery. With Redis, events go through the
// channel and every instance relays them to its own hub. Without Redis,
// events go straight to the local hub. The email mirror runs on the
// publishing instance only, and only when a real provider is configured.
func BuildDispatch(cfg *appconfig.Config, redisClient *redis.Client, email notify.EmailSender, logger *logging.Logger) Dispatch {
	if logger == nil {
		logger = logging.Default()
	}
	hub := notify.NewHub(logger)
	out := Dispatch{Hub: hub}

	var fanout notify.Fanout
	if publisher := notify.NewRedisPublisher(redisClient, notifyChannel(cfg)); publisher != nil {
		fanout = append(fanout, publisher)
		out.Relay = notify.NewRedisRelay(redisClient, notifyChannel(cfg), hub, logger)
	} else {
		fanout = append(fanout, hub)
	}
	if _, disabled := email.(*notify.LogEmailSender); !disabled {
		if mirror := notify.NewEmailMirror(email, logger); mirror != nil {
			fanout = append(fanout, mirror)
		}
	}
	out.Dispatcher = fanout
	return out
}

func notifyChannel(cfg *appconfig.Config) string {
	if cfg == nil || strings.TrimSpace(cfg.NotifyChannel) == "" {
		return "clinic:notifications"
	}
	return cfg.NotifyChannel
}
