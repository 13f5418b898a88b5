// Package config loads the immutable Settings snapshot the core consumes:
// read the file, substitute ${VAR}/${VAR:-default} environment references,
// unmarshal YAML, then apply environment overrides and defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// LightingAppID is the fixed C-Bus application id for lighting groups.
// It is a protocol constant, not a configuration option.
const LightingAppID = "56"

// Settings is the frozen configuration snapshot every component reads.
// Every field the core uses has a defaulted value before Validate succeeds.
type Settings struct {
	MqttBroker   string // "host:port"
	MqttUsername string
	MqttPassword string

	CBusIP            string
	CBusCommandPort   int
	CBusEventPort     int
	CBusName          string // C-Gate project name
	CBusUsername      string // accepted, not currently used to authenticate (C-Gate has no auth in this deployment mode)
	CBusPassword      string

	MessageIntervalMs     int
	ReconnectInitialDelayMs int
	ReconnectMaxDelayMs     int

	RetainReads bool

	GetAllNetApp      string
	GetAllOnStart     bool
	GetAllPeriodSecs  int

	HaDiscoveryEnabled     bool
	HaDiscoveryPrefix      string
	HaDiscoveryNetworks    []string
	HaDiscoveryCoverAppID  string
	HaDiscoverySwitchAppID string
	HaDiscoveryRelayAppID  string
	HaDiscoveryPirAppID    string

	Logging bool
}

// fileSettings is the on-disk YAML shape; pointers distinguish "unset" from
// zero-value so defaulting can tell them apart.
type fileSettings struct {
	Mqtt         string `yaml:"mqtt"`
	MqttUsername string `yaml:"mqttusername"`
	MqttPassword string `yaml:"mqttpassword"`

	CBusIP   string `yaml:"cbusip"`
	CBusName string `yaml:"cbusname"`

	CBusCommandPort *int `yaml:"cbuscommandport"`
	CBusEventPort   *int `yaml:"cbuseventport"`

	MessageIntervalMs       *int `yaml:"messageinterval"`
	ReconnectInitialDelayMs *int `yaml:"reconnectinitialdelay"`
	ReconnectMaxDelayMs     *int `yaml:"reconnectmaxdelay"`

	RetainReads *bool `yaml:"retainreads"`

	GetAllNetApp     string `yaml:"getallnetapp"`
	GetAllOnStart    *bool  `yaml:"getallonstart"`
	GetAllPeriodSecs *int   `yaml:"getallperiod"`

	HaDiscoveryEnabled     *bool    `yaml:"ha_discovery_enabled"`
	HaDiscoveryPrefix      string   `yaml:"ha_discovery_prefix"`
	HaDiscoveryNetworks    []string `yaml:"ha_discovery_networks"`
	HaDiscoveryCoverAppID  string   `yaml:"ha_discovery_cover_app_id"`
	HaDiscoverySwitchAppID string   `yaml:"ha_discovery_switch_app_id"`
	HaDiscoveryRelayAppID  string   `yaml:"ha_discovery_relay_app_id"`
	HaDiscoveryPirAppID    string   `yaml:"ha_discovery_pir_app_id"`

	Logging *bool `yaml:"logging"`
}

var envRegex = regexp.MustCompile(`\$\{(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars expands ${VAR} and ${VAR:-default} references in raw
// config text before it is unmarshaled.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		if val, ok := os.LookupEnv(matches[1]); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}

func applyDefaults(fs *fileSettings) {
	if fs.CBusCommandPort == nil {
		v := 20023
		fs.CBusCommandPort = &v
	}
	if fs.CBusEventPort == nil {
		v := 20025
		fs.CBusEventPort = &v
	}
	if fs.MessageIntervalMs == nil {
		v := 200
		fs.MessageIntervalMs = &v
	}
	if fs.ReconnectInitialDelayMs == nil {
		v := 1000
		fs.ReconnectInitialDelayMs = &v
	}
	if fs.ReconnectMaxDelayMs == nil {
		v := 30000
		fs.ReconnectMaxDelayMs = &v
	}
	if fs.RetainReads == nil {
		v := true
		fs.RetainReads = &v
	}
	if fs.GetAllOnStart == nil {
		v := false
		fs.GetAllOnStart = &v
	}
	if fs.GetAllPeriodSecs == nil {
		v := 0
		fs.GetAllPeriodSecs = &v
	}
	if fs.HaDiscoveryEnabled == nil {
		v := false
		fs.HaDiscoveryEnabled = &v
	}
	if fs.HaDiscoveryPrefix == "" {
		fs.HaDiscoveryPrefix = "homeassistant"
	}
	if fs.Logging == nil {
		v := false
		fs.Logging = &v
	}
}

func applyEnvOverrides(fs *fileSettings) {
	if v := os.Getenv("MQTT_HOST"); v != "" {
		// Preserve an existing port if one was configured; MQTT_HOST overrides
		// the host portion only when the current value already has one.
		if host, port, ok := strings.Cut(fs.Mqtt, ":"); ok && port != "" {
			fs.Mqtt = v + ":" + port
			_ = host
		} else {
			fs.Mqtt = v
		}
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		fs.MqttUsername = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		fs.MqttPassword = v
	}
	if v := os.Getenv("CGATE_IP"); v != "" {
		fs.CBusIP = v
	}
	if v := os.Getenv("CGATE_PROJECT"); v != "" {
		fs.CBusName = v
	}
}

// LoadSettings reads, substitutes, unmarshals, overrides, defaults and
// validates the settings file at path, returning a frozen Settings or the
// full list of validation errors.
func LoadSettings(path string) (Settings, []error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, []error{fmt.Errorf("reading settings file %q: %w", path, err)}
	}

	content := SubstituteEnvVars(string(raw))

	var fs fileSettings
	if err := yaml.Unmarshal([]byte(content), &fs); err != nil {
		return Settings{}, []error{fmt.Errorf("parsing settings file %q: %w", path, err)}
	}

	applyEnvOverrides(&fs)
	applyDefaults(&fs)

	// CGATE_USERNAME/CGATE_PASSWORD have no YAML key; thread them through directly.
	cbusUsername := os.Getenv("CGATE_USERNAME")
	cbusPassword := os.Getenv("CGATE_PASSWORD")

	settings := Settings{
		MqttBroker:   fs.Mqtt,
		MqttUsername: fs.MqttUsername,
		MqttPassword: fs.MqttPassword,

		CBusIP:          fs.CBusIP,
		CBusCommandPort: *fs.CBusCommandPort,
		CBusEventPort:   *fs.CBusEventPort,
		CBusName:        fs.CBusName,
		CBusUsername:    cbusUsername,
		CBusPassword:    cbusPassword,

		MessageIntervalMs:       *fs.MessageIntervalMs,
		ReconnectInitialDelayMs: *fs.ReconnectInitialDelayMs,
		ReconnectMaxDelayMs:     *fs.ReconnectMaxDelayMs,

		RetainReads: *fs.RetainReads,

		GetAllNetApp:     fs.GetAllNetApp,
		GetAllOnStart:    *fs.GetAllOnStart,
		GetAllPeriodSecs: *fs.GetAllPeriodSecs,

		HaDiscoveryEnabled:     *fs.HaDiscoveryEnabled,
		HaDiscoveryPrefix:      fs.HaDiscoveryPrefix,
		HaDiscoveryNetworks:    fs.HaDiscoveryNetworks,
		HaDiscoveryCoverAppID:  fs.HaDiscoveryCoverAppID,
		HaDiscoverySwitchAppID: fs.HaDiscoverySwitchAppID,
		HaDiscoveryRelayAppID:  fs.HaDiscoveryRelayAppID,
		HaDiscoveryPirAppID:    fs.HaDiscoveryPirAppID,

		Logging: *fs.Logging,
	}

	if errs := Validate(settings); len(errs) > 0 {
		return Settings{}, errs
	}
	return settings, nil
}

// Validate checks every mandatory field is present and well-formed.
func Validate(s Settings) []error {
	var errs []error
	if s.MqttBroker == "" {
		errs = append(errs, fmt.Errorf("mqtt: host:port is required"))
	}
	if s.CBusIP == "" {
		errs = append(errs, fmt.Errorf("cbusip: is required"))
	}
	if s.CBusName == "" {
		errs = append(errs, fmt.Errorf("cbusname: C-Gate project name is required"))
	}
	if s.CBusCommandPort <= 0 {
		errs = append(errs, fmt.Errorf("cbuscommandport: must be positive, got %d", s.CBusCommandPort))
	}
	if s.CBusEventPort <= 0 {
		errs = append(errs, fmt.Errorf("cbuseventport: must be positive, got %d", s.CBusEventPort))
	}
	if s.MessageIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("messageinterval: must be non-negative, got %d", s.MessageIntervalMs))
	}
	if s.HaDiscoveryEnabled && s.HaDiscoveryPrefix == "" {
		errs = append(errs, fmt.Errorf("ha_discovery_prefix: required when ha_discovery_enabled is true"))
	}
	return errs
}
