// Package mqtt builds MQTT client options for the MQTT event bus.
package mqtt

import (
	"crypto/tls"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLS       *tls.Config
}

// NewClientOptions returns options with automatic reconnect enabled. Clean
// sessions are used, so the event bus resubscribes on every connect.
func NewClientOptions(cfg Config) *MQTT.ClientOptions {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}

	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetKeepAlive(30 * time.Second)

	return opts
}
