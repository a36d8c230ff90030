package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "token only, defaults applied",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "test-token"},
			want: &Config{
				TelegramBotToken: "test-token",
				DatabasePath:     "./data/bot.db",
				LogLevel:         "info",
				PollInterval:     300 * time.Second,
				PollParallel:     10,
				MaxFeedCount:     -1,
				CommandPrefix:    "",
			},
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"DATABASE_PATH":      "/tmp/bot.db",
				"LOG_LEVEL":          "debug",
				"POLL_INTERVAL":      "60",
				"POLL_PARALLEL":      "4",
				"MAX_FEED_COUNT":     "500",
				"COMMAND_PREFIX":     "rss",
			},
			want: &Config{
				TelegramBotToken: "tok",
				DatabasePath:     "/tmp/bot.db",
				LogLevel:         "debug",
				PollInterval:     60 * time.Second,
				PollParallel:     4,
				MaxFeedCount:     500,
				CommandPrefix:    "rss",
			},
		},
		{
			name: "zero feed cap admits no new feeds",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"MAX_FEED_COUNT":     "0",
			},
			want: &Config{
				TelegramBotToken: "tok",
				DatabasePath:     "./data/bot.db",
				LogLevel:         "info",
				PollInterval:     300 * time.Second,
				PollParallel:     10,
				MaxFeedCount:     0,
			},
		},
		{
			name: "invalid poll interval",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"POLL_INTERVAL":      "soon",
			},
			wantErr: true,
		},
		{
			name: "non-positive poll interval",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"POLL_INTERVAL":      "0",
			},
			wantErr: true,
		},
		{
			name: "non-positive parallelism",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"POLL_PARALLEL":      "-2",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear relevant env vars
			for _, key := range []string{
				"TELEGRAM_BOT_TOKEN", "DATABASE_PATH", "LOG_LEVEL",
				"POLL_INTERVAL", "POLL_PARALLEL", "MAX_FEED_COUNT", "COMMAND_PREFIX",
			} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
