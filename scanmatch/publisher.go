package scanmatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// PosesMessage is the payload of the combined {prefix}/poses topic
type PosesMessage struct {
	Robots    []LivePose `json:"robots"`
	Timestamp int64      `json:"timestamp"`
}

// Publisher publishes corrected poses to MQTT. Each pose goes to
// {prefix}/{robotId}/pose and the set of latest poses to {prefix}/poses,
// both retained.
type Publisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.RWMutex
	poses map[string]LivePose
}

var _ PosePublisher = (*Publisher)(nil)

// NewPublisher creates a pose publisher. MQTT_PUBLISH_PREFIX overrides prefix.
func NewPublisher(client mqtt.Client, prefix string, logger *zap.Logger) *Publisher {
	prefix = envOr("MQTT_PUBLISH_PREFIX", prefix)
	if prefix == "" {
		prefix = "tudoloc"
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		retain:  true,
		timeout: 2 * time.Second,
		logger:  orNop(logger),
		poses:   make(map[string]LivePose),
	}
}

// PoseTopic returns the per-robot topic
func (p *Publisher) PoseTopic(robotID string) string {
	return fmt.Sprintf("%s/%s/pose", p.prefix, robotID)
}

// PosesTopic returns the combined topic
func (p *Publisher) PosesTopic() string {
	return p.prefix + "/poses"
}

// PublishPose publishes a robot's pose and the updated combined message
func (p *Publisher) PublishPose(pose LivePose) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if pose.Timestamp.IsZero() {
		pose.Timestamp = time.Now()
	}

	p.mu.Lock()
	p.poses[pose.RobotID] = pose
	p.mu.Unlock()

	if err := p.publishJSON(p.PoseTopic(pose.RobotID), pose); err != nil {
		return err
	}
	p.logger.Debug("published pose",
		zap.String("robot", pose.RobotID),
		zap.Stringer("pose", pose.Pose()),
		zap.Float64("score", pose.Score),
	)

	return p.publishJSON(p.PosesTopic(), PosesMessage{Robots: p.Poses(), Timestamp: time.Now().Unix()})
}

// Poses returns the latest published pose of every robot ordered by ID
func (p *Publisher) Poses() []LivePose {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]LivePose, 0, len(p.poses))
	for _, pose := range p.poses {
		out = append(out, pose)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RobotID < out[j].RobotID })
	return out
}

func (p *Publisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(p.timeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
