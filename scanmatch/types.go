package scanmatch

// ValetudoMap represents the root map structure from a Valetudo JSON export
type ValetudoMap struct {
	Class     string      `json:"__class"`
	MetaData  MapMetaData `json:"metaData"`
	Size      Size        `json:"size"`
	PixelSize int         `json:"pixelSize"` // centimeters per pixel
	Layers    []MapLayer  `json:"layers"`
	Entities  []MapEntity `json:"entities"`
}

// MapMetaData contains map metadata
type MapMetaData struct {
	Version        int    `json:"version"`
	Nonce          string `json:"nonce"`
	TotalLayerArea int    `json:"totalLayerArea"`
}

// Size represents map dimensions in pixels
type Size struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MapLayer represents a floor/segment/wall layer.
// Pixels is a flat [x1,y1,x2,y2,...] list of grid indices. Newer Valetudo
// versions send CompressedPixels instead: [x,y,count,...] horizontal runs.
type MapLayer struct {
	Class            string        `json:"__class"`
	MetaData         LayerMetaData `json:"metaData"`
	Type             string        `json:"type"` // "floor", "segment", "wall"
	Pixels           []int         `json:"pixels,omitempty"`
	CompressedPixels []int         `json:"compressedPixels,omitempty"`
}

// LayerMetaData contains layer metadata
type LayerMetaData struct {
	SegmentID  string `json:"segmentId,omitempty"`
	Name       string `json:"name,omitempty"`
	Area       int    `json:"area"`
	PixelCount int    `json:"pixelCount,omitempty"`
}

// MapEntity represents a map entity (robot position, charger, path).
// Entity points are in centimeters, not grid indices.
type MapEntity struct {
	Class    string                 `json:"__class"`
	MetaData map[string]interface{} `json:"metaData"`
	Points   []int                  `json:"points"`
	Type     string                 `json:"type"` // "robot_position", "charger_location", "path"
}

// Point represents a 2D coordinate in meters
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RobotConfig defines a robot from the config file
type RobotConfig struct {
	ID        string  `yaml:"id" json:"id"`
	MapTopic  string  `yaml:"mapTopic" json:"mapTopic"`
	ScanTopic string  `yaml:"scanTopic" json:"scanTopic"`
	Color     string  `yaml:"color,omitempty" json:"color,omitempty"`
	ApiURL    *string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"` // Optional Valetudo API URL for the initial map
}

// Config represents the full configuration file
type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http" json:"http"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Matcher MatcherConfig `yaml:"matcher" json:"matcher"`
	Robots  []RobotConfig `yaml:"robots" json:"robots"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"` // debug, info, warn, error
	Development bool   `yaml:"development" json:"development"`
}

// MatcherConfig holds scan matcher settings. Angles are in degrees here and
// converted to radians by SearchBounds.
type MatcherConfig struct {
	Strategy             string  `yaml:"strategy" json:"strategy"` // "branch-and-bound" or "exhaustive"
	MaxTranslationError  float64 `yaml:"maxTranslationError" json:"maxTranslationError"`
	MaxTranslationErrorX float64 `yaml:"maxTranslationErrorX" json:"maxTranslationErrorX"`
	MaxTranslationErrorY float64 `yaml:"maxTranslationErrorY" json:"maxTranslationErrorY"`
	MaxRotationErrorDeg  float64 `yaml:"maxRotationErrorDeg" json:"maxRotationErrorDeg"`
	AngleStepDeg         float64 `yaml:"angleStepDeg" json:"angleStepDeg"`
	TranslationStep      float64 `yaml:"translationStep" json:"translationStep"`
	Coarsening           string  `yaml:"coarsening" json:"coarsening"` // "pyramid" or "none"
	PyramidLevels        int     `yaml:"pyramidLevels" json:"pyramidLevels"`
	LikelihoodRadius     float64 `yaml:"likelihoodRadius,omitempty" json:"likelihoodRadius,omitempty"` // meters; 0 disables
}

// GetRobotByID returns the robot config for the given ID
func (c *Config) GetRobotByID(id string) *RobotConfig {
	for i := range c.Robots {
		if c.Robots[i].ID == id {
			return &c.Robots[i]
		}
	}
	return nil
}
