package scanmatch

import (
	"fmt"
	"math"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Map coarsening modes
const (
	CoarseningPyramid = "pyramid"
	CoarseningNone    = "none"
)

// DefaultHTTPPort is used when http.port is not set
const DefaultHTTPPort = 8080

// DefaultConfig returns a configuration with every default applied and no robots
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig loads the configuration from a YAML file, applies defaults and
// validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Config{Matcher: DefaultMatcherConfig()}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.applyServiceDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills unset fields of a configuration built in code, where a
// zero matcher value means unset
func (c *Config) ApplyDefaults() {
	c.applyServiceDefaults()
	c.Matcher.ApplyDefaults()
}

func (c *Config) applyServiceDefaults() {
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = "tudoloc"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "tudoloc"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// DefaultMatcherConfig returns the matcher settings used for every key a
// config file leaves out
func DefaultMatcherConfig() MatcherConfig {
	var mc MatcherConfig
	mc.ApplyDefaults()
	return mc
}

// UnmarshalYAML decodes the matcher section over the values already in mc.
// Keys that are present keep their value, zero included, and are checked by
// Validate; absent per-axis translation errors follow maxTranslationError.
func (mc *MatcherConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain MatcherConfig
	p := plain(*mc)
	if err := value.Decode(&p); err != nil {
		return err
	}

	keys := mappingKeys(value)
	if !keys["maxTranslationErrorX"] {
		p.MaxTranslationErrorX = p.MaxTranslationError
	}
	if !keys["maxTranslationErrorY"] {
		p.MaxTranslationErrorY = p.MaxTranslationError
	}
	*mc = MatcherConfig(p)
	return nil
}

func mappingKeys(n *yaml.Node) map[string]bool {
	keys := make(map[string]bool)
	if n.Kind != yaml.MappingNode {
		return keys
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		keys[n.Content[i].Value] = true
	}
	return keys
}

// ApplyDefaults fills unset matcher fields. An unset per-axis translation
// error inherits maxTranslationError.
func (mc *MatcherConfig) ApplyDefaults() {
	if mc.Strategy == "" {
		mc.Strategy = StrategyBranchAndBound
	}
	if mc.MaxTranslationError == 0 {
		mc.MaxTranslationError = DefaultMaxTranslationError
	}
	if mc.MaxTranslationErrorX == 0 {
		mc.MaxTranslationErrorX = mc.MaxTranslationError
	}
	if mc.MaxTranslationErrorY == 0 {
		mc.MaxTranslationErrorY = mc.MaxTranslationError
	}
	if mc.MaxRotationErrorDeg == 0 {
		mc.MaxRotationErrorDeg = DefaultMaxRotationErrorDeg
	}
	if mc.AngleStepDeg == 0 {
		mc.AngleStepDeg = DefaultAngleStepDeg
	}
	if mc.TranslationStep == 0 {
		mc.TranslationStep = DefaultTranslationStep
	}
	if mc.Coarsening == "" {
		mc.Coarsening = CoarseningPyramid
	}
	if mc.PyramidLevels == 0 {
		mc.PyramidLevels = DefaultPyramidLevels
	}
}

// SearchBounds converts the matcher settings to search bounds in radians
func (mc MatcherConfig) SearchBounds() SearchBounds {
	return SearchBounds{
		MaxTranslationErrorX: mc.MaxTranslationErrorX,
		MaxTranslationErrorY: mc.MaxTranslationErrorY,
		MaxRotationError:     DegToRad(mc.MaxRotationErrorDeg),
		AngleStep:            DegToRad(mc.AngleStepDeg),
		TranslationStep:      mc.TranslationStep,
	}
}

// Validate checks the configuration after defaults were applied
func (c *Config) Validate() error {
	if err := c.Matcher.Validate(); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level %q: %w", c.Logging.Level, err)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}

	seen := make(map[string]bool, len(c.Robots))
	for i, rc := range c.Robots {
		if rc.ID == "" {
			return fmt.Errorf("robot[%d].id is required", i)
		}
		if seen[rc.ID] {
			return fmt.Errorf("robot[%d].id %q is duplicated", i, rc.ID)
		}
		seen[rc.ID] = true
		if c.MQTT.Broker != "" && (rc.MapTopic == "" || rc.ScanTopic == "") {
			return fmt.Errorf("robot[%d] %s: mapTopic and scanTopic are required when mqtt.broker is set", i, rc.ID)
		}
	}
	return nil
}

// Validate checks the matcher settings
func (mc MatcherConfig) Validate() error {
	switch mc.Strategy {
	case StrategyBranchAndBound, StrategyExhaustive:
	default:
		return fmt.Errorf("unknown strategy %q", mc.Strategy)
	}
	switch mc.Coarsening {
	case CoarseningPyramid, CoarseningNone:
	default:
		return fmt.Errorf("unknown coarsening %q", mc.Coarsening)
	}
	if mc.PyramidLevels < 0 {
		return fmt.Errorf("pyramidLevels must not be negative, got %d", mc.PyramidLevels)
	}
	if math.IsNaN(mc.LikelihoodRadius) || math.IsInf(mc.LikelihoodRadius, 0) || mc.LikelihoodRadius < 0 {
		return fmt.Errorf("likelihoodRadius must be finite and non-negative, got %v", mc.LikelihoodRadius)
	}
	return mc.SearchBounds().Validate()
}
