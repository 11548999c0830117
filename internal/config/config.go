package config

import "time"

// Config is the root configuration for DreamOS.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Events   EventsConfig   `json:"events"`
	Boards   BoardsConfig   `json:"boards"`
	Mailbox  MailboxConfig  `json:"mailbox"`
	Dispatch DispatchConfig `json:"dispatch"`
	Monitor  MonitorConfig  `json:"monitor"`
	Registry string         `json:"registry"` // path to the agent registry YAML
}

// GatewayConfig holds the read-only HTTP gateway settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level"` // debug, info, warn, error
}

// BoardsConfig configures the task board store.
type BoardsConfig struct {
	Dir          string   `json:"dir"`           // board directory (default: $DREAMOS_PATH/boards)
	LockTimeout  Duration `json:"lock_timeout"`  // board lock acquisition budget
	StaleAfter   Duration `json:"stale_after"`   // in-flight tasks older than this get reset
	ArchiveAfter Duration `json:"archive_after"` // completed-board retention before ARCHIVED
}

// MailboxConfig configures the mailbox store.
type MailboxConfig struct {
	Dir       string   `json:"dir"`       // mailbox directory (default: $DREAMOS_PATH/mailboxes)
	Retention Duration `json:"retention"` // processed message retention before purge
}

// DispatchConfig configures the dispatcher loop.
type DispatchConfig struct {
	Interval     Duration `json:"interval"`      // pause between dispatch passes
	RecoverAfter Duration `json:"recover_after"` // PROCESSING tasks older than this get rolled back
}

// MonitorConfig configures the stall monitor.
type MonitorConfig struct {
	Schedule      string   `json:"schedule"`       // cron spec for monitor scans
	IdleThreshold Duration `json:"idle_threshold"` // agent silence before escalation
	Supervisor    string   `json:"supervisor"`     // agent id that receives escalations
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
