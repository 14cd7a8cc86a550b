package pbx

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the bridge process configuration, loaded from a YAML file. The
// bridge deliberately does not share the API server's env-based config: it
// runs next to the PBX, often under a different operator, and ships as a
// single file.
type Config struct {
	Env     string        `yaml:"env"`
	ARI     ARIConfig     `yaml:"ari"`
	Hotline HotlineConfig `yaml:"hotline"`
	HTTP    HTTPConfig    `yaml:"http"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// ARIConfig points at the PBX's REST/websocket interface.
type ARIConfig struct {
	URL      string `yaml:"url"` // e.g. http://127.0.0.1:8088/ari
	App      string `yaml:"app"` // stasis application name
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// EndpointTemplate turns a PSTN number into a dialable endpoint,
	// e.g. "PJSIP/%s@trunk". Endpoints from the roster are used verbatim.
	EndpointTemplate string `yaml:"endpoint_template"`

	// MediaPrefix is where the prompt sound files live on the PBX,
	// e.g. "sound:hotline" resolves the "welcome" prompt in English to
	// "sound:hotline/welcome_en".
	MediaPrefix string `yaml:"media_prefix"`
}

// HotlineConfig points at the hotline API's webhook surface.
type HotlineConfig struct {
	BaseURL      string `yaml:"base_url"`
	SharedSecret string `yaml:"shared_secret"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig enables the optional call lifecycle publisher. An empty broker
// disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		Env: "development",
		ARI: ARIConfig{
			URL:              "http://127.0.0.1:8088/ari",
			App:              "hotline",
			EndpointTemplate: "PJSIP/%s",
			MediaPrefix:      "sound:hotline",
		},
		HTTP: HTTPConfig{
			Listen: ":8089",
		},
		MQTT: MQTTConfig{
			ClientID:    "hotline-pbxbridge",
			TopicPrefix: "hotline",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ARI.URL == "" {
		return fmt.Errorf("ari.url is required")
	}
	if c.ARI.App == "" {
		return fmt.Errorf("ari.app is required")
	}
	if c.ARI.Username == "" {
		return fmt.Errorf("ari.username is required")
	}
	if c.ARI.Password == "" {
		return fmt.Errorf("ari.password is required")
	}
	if !strings.Contains(c.ARI.EndpointTemplate, "%s") {
		return fmt.Errorf("ari.endpoint_template must contain %%s, got %q", c.ARI.EndpointTemplate)
	}
	if c.Hotline.BaseURL == "" {
		return fmt.Errorf("hotline.base_url is required")
	}
	if c.Hotline.SharedSecret == "" {
		return fmt.Errorf("hotline.shared_secret is required")
	}
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required when a broker is set")
	}
	return nil
}
