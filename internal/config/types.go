package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Library  LibraryConfig  `json:"library"`
	Dispatch DispatchConfig `json:"dispatch"`
	Schedule ScheduleConfig `json:"schedule"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token     string  `json:"token"`
	ChannelID int64   `json:"channel_id"`
	AdminIDs  []int64 `json:"admin_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec throttles outbound channel sends. 0 keeps the default (1/s).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LibraryConfig struct {
	Root string `json:"root"`
	// Blacklist entries are substrings; a file whose name contains any of
	// them is skipped by the scanner.
	Blacklist []string `json:"blacklist,omitempty"`
	// Watch enables the fsnotify watcher that triggers a rescan when new
	// files land in the library.
	Watch bool `json:"watch,omitempty"`
	// WatchDebounce is a Go duration string; rescans triggered by the
	// watcher are coalesced within this window. Default "5s".
	WatchDebounce string `json:"watch_debounce,omitempty"`
}

type DispatchConfig struct {
	// Interval between automatic media sends (Go duration string, e.g. "45m").
	Interval string `json:"interval"`
	// Types optionally restricts dispatch to a subset of
	// {"image","animation","video"}. Empty means all.
	Types []string `json:"types,omitempty"`
}

type ScheduleConfig struct {
	// DailyScanTime is "HH:MM" local to Timezone; the daily maintenance job
	// (scan + repair) fires at that time.
	DailyScanTime string `json:"daily_scan_time"`
	// Timezone is an IANA TZ name, e.g. "Asia/Shanghai". Empty means local.
	Timezone string `json:"timezone,omitempty"`
	// TextSchedules are recurring plain-text broadcasts to the channel.
	TextSchedules []TextSchedule `json:"text_schedules,omitempty"`
}

// TextSchedule is one recurring text broadcast.
//
// Schedule accepts three formats:
//   - "day HH:MM"        every day at HH:MM
//   - "week <0-6> HH:MM" weekly, 0=Monday
//   - "cron <expr>"      5-field cron expression
type TextSchedule struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Content  string `json:"content"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// IsAdmin reports whether id is in the configured admin allow-list.
func (c *Config) IsAdmin(id int64) bool {
	if c == nil {
		return false
	}
	for _, a := range c.Telegram.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}
