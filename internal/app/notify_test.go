package app

import (
	"testing"

	"github.com/zulandar/safetycar/internal/config"
)

func TestBuildNotifier_EmptyPlatformReturnsNil(t *testing.T) {
	adapter, err := BuildNotifier(config.NotifyConfig{})
	if err != nil || adapter != nil {
		t.Fatalf("expected nil/nil for unset platform, got %+v %v", adapter, err)
	}
}

func TestBuildNotifier_Slack(t *testing.T) {
	adapter, err := BuildNotifier(config.NotifyConfig{
		Platform: "slack",
		Channel:  "#caution-log",
		Slack:    config.SlackConfig{BotToken: "xoxb-test"},
	})
	if err != nil {
		t.Fatalf("BuildNotifier: %v", err)
	}
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
}

func TestBuildNotifier_Discord(t *testing.T) {
	adapter, err := BuildNotifier(config.NotifyConfig{
		Platform: "discord",
		Channel:  "123456789",
		Discord:  config.DiscordConfig{BotToken: "fake-token"},
	})
	if err != nil {
		t.Fatalf("BuildNotifier: %v", err)
	}
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
}

func TestBuildNotifier_UnsupportedPlatform(t *testing.T) {
	_, err := BuildNotifier(config.NotifyConfig{Platform: "irc"})
	if err == nil {
		t.Fatal("expected error for unsupported platform")
	}
}
