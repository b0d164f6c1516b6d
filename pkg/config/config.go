// Package config loads the configuration of the devicegroups command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dukex/devicegroups/pkg/groups"
	"github.com/dukex/devicegroups/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTick     = time.Second
	DefaultHTTPPort = 8080
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the complete configuration of a device process.
type Config struct {
	DeviceID  string         `yaml:"device_id"`
	EventName string         `yaml:"event_name" validate:"required"`
	Retrieval Retrieval      `yaml:"retrieval"`
	Tick      time.Duration  `yaml:"tick" validate:"gte=1s"`
	Transport Transport      `yaml:"transport"`
	HTTP      HTTP           `yaml:"http"`
	LogLevel  string         `yaml:"log_level" validate:"oneof=debug info warn error"`
	Tracing   bool           `yaml:"tracing"`
	Devices   []DeviceRecord `yaml:"devices,omitempty" validate:"dive"`
}

type Retrieval struct {
	Mode            string        `yaml:"mode" validate:"oneof=manual at_start at-start periodic"`
	Interval        time.Duration `yaml:"interval" validate:"gte=0s"`
	ResponseTimeout time.Duration `yaml:"response_timeout" validate:"gt=0s"`
	RetryTimeout    time.Duration `yaml:"retry_timeout" validate:"gt=0s"`
}

type Transport struct {
	Provider string `yaml:"provider" validate:"oneof=gochannel kafka mqtt redis"`

	KafkaBrokers []string `yaml:"kafka_brokers" validate:"dive,hostname_port"`

	MQTTBroker   string `yaml:"mqtt_broker" validate:"required_if=Provider mqtt,omitempty,url"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	MQTTQoS      byte   `yaml:"mqtt_qos" validate:"lte=2"`

	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Provider redis,omitempty,hostname_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       string `yaml:"redis_db" validate:"omitempty,number"`
}

type HTTP struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"gte=1,lte=65535"`
}

// DeviceRecord is the backend's view of a device, answered by the respond
// command.
type DeviceRecord struct {
	DeviceID    string   `yaml:"device_id" validate:"required"`
	Groups      []string `yaml:"groups"`
	Name        *string  `yaml:"name,omitempty"`
	ProductID   *int     `yaml:"product_id,omitempty"`
	Notes       *string  `yaml:"notes,omitempty"`
	Development *bool    `yaml:"development,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		EventName: groups.DefaultEventName,
		Retrieval: Retrieval{
			Mode:            string(models.RetrievalModeAtStart),
			ResponseTimeout: groups.DefaultResponseTimeout,
			RetryTimeout:    groups.DefaultRetryTimeout,
		},
		Tick: DefaultTick,
		Transport: Transport{
			Provider: "gochannel",
		},
		HTTP: HTTP{
			Enabled: true,
			Port:    DefaultHTTPPort,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file on top of the defaults. Keys missing from the file
// keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// WithDeviceID fills an empty device id with a generated one.
func (c Config) WithDeviceID() Config {
	if c.DeviceID == "" {
		c.DeviceID = GenerateDeviceID()
	}

	return c
}

func GenerateDeviceID() string {
	return "device-" + uuid.New().String()[:8]
}

// Validate checks every field and returns the failures joined together.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %w", groups.ErrInvalidConfig, err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return fmt.Errorf("%w: %s", groups.ErrInvalidConfig, strings.Join(messages, ", "))
}

// SchedulerConfig converts the retrieval section for the group helper.
func (c Config) SchedulerConfig() groups.Config {
	return groups.Config{
		Mode:            models.RetrievalMode(c.Retrieval.Mode),
		Interval:        c.Retrieval.Interval,
		ResponseTimeout: c.Retrieval.ResponseTimeout,
		RetryTimeout:    c.Retrieval.RetryTimeout,
	}.WithDefaults()
}

// Device returns the record for deviceID from the devices list.
func (c Config) Device(deviceID string) (DeviceRecord, bool) {
	for _, device := range c.Devices {
		if device.DeviceID == deviceID {
			return device, true
		}
	}

	return DeviceRecord{}, false
}
