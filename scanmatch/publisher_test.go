package scanmatch

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_Topics(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	p := NewPublisher(nil, "", nil)
	assert.Equal(t, "tudoloc/rocky/pose", p.PoseTopic("rocky"))
	assert.Equal(t, "tudoloc/poses", p.PosesTopic())

	p = NewPublisher(nil, "home", nil)
	assert.Equal(t, "home/rocky/pose", p.PoseTopic("rocky"))
}

func TestPublisher_EnvPrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "override")

	p := NewPublisher(nil, "home", nil)
	assert.Equal(t, "override/poses", p.PosesTopic())
}

func TestPublisher_NotConnected(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	assert.ErrorContains(t, NewPublisher(nil, "home", nil).PublishPose(LivePose{RobotID: "rocky"}), "not connected")

	client := NewMockClient()
	assert.ErrorContains(t, NewPublisher(client, "home", nil).PublishPose(LivePose{RobotID: "rocky"}), "not connected")
	assert.Empty(t, client.Published())
}

func TestPublisher_PublishPose(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client, "home", nil)

	require.NoError(t, p.PublishPose(LivePose{RobotID: "rocky", X: 1.5, Y: -2, Theta: 0.5, Score: 40}))
	require.NoError(t, p.PublishPose(LivePose{RobotID: "dusty", X: 3}))
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.PublishPose(LivePose{RobotID: "rocky", X: 1.6, Timestamp: ts}))

	msgs := client.PublishedTo("home/rocky/pose")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Retain)

	var first LivePose
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &first))
	assert.Equal(t, 1.5, first.X)
	assert.Equal(t, 40.0, first.Score)
	assert.False(t, first.Timestamp.IsZero(), "a zero timestamp is stamped on publish")

	var second LivePose
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &second))
	assert.True(t, ts.Equal(second.Timestamp))

	combined := client.PublishedTo("home/poses")
	require.Len(t, combined, 3)
	var latest PosesMessage
	require.NoError(t, json.Unmarshal(combined[2].Payload, &latest))
	require.Len(t, latest.Robots, 2)
	assert.Equal(t, "dusty", latest.Robots[0].RobotID)
	assert.Equal(t, "rocky", latest.Robots[1].RobotID)
	assert.Equal(t, 1.6, latest.Robots[1].X)

	poses := p.Poses()
	require.Len(t, poses, 2)
	assert.Equal(t, "dusty", poses[0].RobotID)
}

func TestPublisher_PublishError(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("queue full"))

	err := NewPublisher(client, "home", nil).PublishPose(LivePose{RobotID: "rocky"})
	assert.ErrorContains(t, err, "publishing to home/rocky/pose")
	assert.ErrorContains(t, err, "queue full")
}
