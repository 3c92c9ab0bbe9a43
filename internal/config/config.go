package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Session id policies for inbound events that carry no session token.
const (
	SessionPolicySentinel = "sentinel" // fixed "no session" value
	SessionPolicyGenerate = "generate" // fresh random id per event
)

// Config holds the overall application configuration. It is loaded once at
// startup and passed by reference to every component; nothing mutates it
// afterwards.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	SMPP      SMPPConfig
	Backend   BackendConfig
	Dispatch  DispatchConfig
	Reconnect ReconnectConfig
	Session   SessionConfig
}

// SMPPConfig holds the wire-side connection settings.
type SMPPConfig struct {
	Server         string        `envconfig:"SMPP_SERVER"            default:"127.0.0.1"`
	Port           int           `envconfig:"SMPP_PORT"              default:"2775"`
	SystemID       string        `envconfig:"SMPP_USERNAME"          required:"true"`
	Password       string        `envconfig:"SMPP_PASSWORD"          required:"true"`
	SystemType     string        `envconfig:"SYSTEM_TYPE"            default:"USSD"`
	ServiceType    string        `envconfig:"SERVICE_TYPE"           default:"USSD"`
	ServiceCode    string        `envconfig:"SERVICE_CODE"           default:"*123#"`
	EnquireLink    time.Duration `envconfig:"ENQUIRE_LINK_INTERVAL"  default:"30s"`
	RequestTimeout time.Duration `envconfig:"SMPP_REQUEST_TIMEOUT"   default:"10s"`
	MaxWindowSize  uint          `envconfig:"SMPP_MAX_WINDOW"        default:"32"`
	SourceAddrTON  uint8         `envconfig:"SOURCE_ADDR_TON"        default:"1"`
	SourceAddrNPI  uint8         `envconfig:"SOURCE_ADDR_NPI"        default:"1"`
	DestAddrTON    uint8         `envconfig:"DEST_ADDR_TON"          default:"1"`
	DestAddrNPI    uint8         `envconfig:"DEST_ADDR_NPI"          default:"1"`
}

// BackendConfig holds the menu backend call settings.
type BackendConfig struct {
	ProcessURL      string        `envconfig:"PROCESS_URL"        required:"true"`
	Username        string        `envconfig:"SEND_USSD_USERNAME"`
	Password        string        `envconfig:"SEND_USSD_PASSWORD"`
	Port            int           `envconfig:"SEND_USSD_PORT"     default:"8080"`
	Network         string        `envconfig:"NETWORK"`
	Timeout         time.Duration `envconfig:"HTTP_TIMEOUT"       default:"10s"`
	FallbackMessage string        `envconfig:"FALLBACK_MESSAGE"   default:"System Error. Please try again later. Thanks"`
}

// DispatchConfig sizes the inbound worker pool.
type DispatchConfig struct {
	Workers   int `envconfig:"NUMBER_OF_THREADS"   default:"10"`
	QueueSize int `envconfig:"DISPATCH_QUEUE_SIZE" default:"0"` // 0 means 2x workers
}

// ReconnectConfig drives the reconnection supervisor. MaxAttempts of zero
// means retry forever; any positive value makes the supervisor give up and
// fail the process after that many consecutive failed attempts.
type ReconnectConfig struct {
	BaseDelay    time.Duration `envconfig:"RECONNECT_BASE_DELAY"   default:"1s"`
	MaxDelay     time.Duration `envconfig:"RECONNECT_MAX_DELAY"    default:"60s"`
	MaxAttempts  int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"0"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL"          default:"1s"`
}

// SessionConfig selects the missing-session-token policy.
type SessionConfig struct {
	IDPolicy string `envconfig:"SESSION_ID_POLICY" default:"sentinel"`
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Session.IDPolicy != SessionPolicySentinel && cfg.Session.IDPolicy != SessionPolicyGenerate {
		return nil, fmt.Errorf("invalid SESSION_ID_POLICY %q (want %q or %q)",
			cfg.Session.IDPolicy, SessionPolicySentinel, SessionPolicyGenerate)
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = 10
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = 2 * cfg.Dispatch.Workers
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = time.Second
	}
	if cfg.Reconnect.MaxDelay < cfg.Reconnect.BaseDelay {
		cfg.Reconnect.MaxDelay = cfg.Reconnect.BaseDelay
	}
	return &cfg, nil
}
