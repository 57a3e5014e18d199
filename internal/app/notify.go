package app

import (
	"fmt"

	"github.com/zulandar/safetycar/internal/config"
	"github.com/zulandar/safetycar/internal/notify"
	"github.com/zulandar/safetycar/internal/notify/discord"
	"github.com/zulandar/safetycar/internal/notify/slack"
)

// BuildNotifier constructs the configured chat adapter, or nil if
// notify.platform is unset. It never blocks on the network: callers are
// expected to call Connect themselves.
func BuildNotifier(cfg config.NotifyConfig) (notify.Adapter, error) {
	switch cfg.Platform {
	case "":
		return nil, nil
	case "slack":
		return slack.New(slack.AdapterOpts{
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Channel,
		})
	case "discord":
		return discord.New(discord.AdapterOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.Channel,
		})
	default:
		return nil, fmt.Errorf("app: unsupported notify platform %q", cfg.Platform)
	}
}
