package crown

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedMock() *MockClient {
	client := NewMockClient()
	client.SetConnected(true)
	return client
}

func TestNewResultPublisher_Prefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	assert.Equal(t, DefaultPublishPrefix, NewResultPublisher(nil, "", nil).publishPrefix)
	assert.Equal(t, "forest", NewResultPublisher(nil, "forest", nil).publishPrefix)

	t.Setenv("MQTT_PUBLISH_PREFIX", "override")
	assert.Equal(t, "override", NewResultPublisher(nil, "forest", nil).publishPrefix)
}

func TestResultPublisher_PublishRun(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := connectedMock()
	p := NewResultPublisher(client, "forest", nil)

	summary := RunSummary{RunID: "run-1", Input: "cloud.txt", TreeField: "treeID", Trees: 3, Delineated: 2, Skipped: 1}
	require.NoError(t, p.PublishRun(summary, sampleRecords()))

	msgs := client.Published()
	require.Len(t, msgs, 4)
	assert.Equal(t, "forest/runs/run-1", msgs[0].Topic)
	assert.Equal(t, "forest/runs/run-1/trees/3", msgs[1].Topic)
	assert.Equal(t, "forest/runs/run-1/trees/8", msgs[2].Topic)
	assert.Equal(t, "forest/latest", msgs[3].Topic)

	assert.False(t, msgs[0].Retain)
	assert.True(t, msgs[3].Retain, "latest summary is always retained")
	assert.Equal(t, byte(1), msgs[0].QoS)

	var run struct {
		RunID string         `json:"runId"`
		Trees []CrownMetrics `json:"treeMetrics"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &run))
	assert.Equal(t, "run-1", run.RunID)
	require.Len(t, run.Trees, 2)
	assert.Equal(t, TreeID(8), run.Trees[1].TreeID)

	retained, ok := client.Retained("forest/latest")
	require.True(t, ok)
	var latest RunSummary
	require.NoError(t, json.Unmarshal(retained, &latest))
	assert.Equal(t, summary, latest)
}

func TestResultPublisher_QoSAndRetain(t *testing.T) {
	client := connectedMock()
	p := NewResultPublisher(client, "forest", nil)
	p.SetQoS(2)
	p.SetQoS(7)
	p.SetRetain(true)

	require.NoError(t, p.PublishRun(RunSummary{RunID: "r"}, nil))
	msgs := client.Published()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, byte(2), m.QoS)
		assert.True(t, m.Retain)
	}
}

func TestResultPublisher_PublishClip(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := connectedMock()
	p := NewResultPublisher(client, "", nil)

	report := &ClipReport{
		PlotID:    "P1",
		TreeField: TreeIDField{Name: "treeID"},
		Trees:     4,
		Retained:  []TreeID{1, 3},
		PointsIn:  10,
		PointsOut: 4,
	}
	require.NoError(t, p.PublishClip(report))

	msgs := client.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crownmesh/clips/P1", msgs[0].Topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &body))
	assert.Equal(t, "treeID", body["treeField"])
	assert.Equal(t, []interface{}{1.0, 3.0}, body["retained"])
}

func TestResultPublisher_Errors(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		p := NewResultPublisher(nil, "forest", nil)
		assert.Error(t, p.PublishRun(RunSummary{RunID: "r"}, nil))
		assert.Error(t, p.PublishClip(&ClipReport{PlotID: "P1"}))
	})

	t.Run("disconnected", func(t *testing.T) {
		p := NewResultPublisher(NewMockClient(), "forest", nil)
		assert.Error(t, p.PublishRun(RunSummary{RunID: "r"}, nil))
	})

	t.Run("publish failure", func(t *testing.T) {
		client := connectedMock()
		boom := errors.New("broker rejected")
		client.SetPublishError(boom)
		p := NewResultPublisher(client, "forest", nil)
		assert.ErrorIs(t, p.PublishRun(RunSummary{RunID: "r"}, sampleRecords()), boom)
	})

	t.Run("not acknowledged", func(t *testing.T) {
		client := connectedMock()
		client.SetStalled(true)
		p := NewResultPublisher(client, "forest", nil)
		assert.ErrorIs(t, p.PublishRun(RunSummary{RunID: "r"}, nil), ErrPublishTimeout)
		assert.ErrorIs(t, p.PublishClip(&ClipReport{PlotID: "P1"}), ErrPublishTimeout)
		assert.Empty(t, client.Published())
	})
}

func TestConnectMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	client, err := ConnectMQTT(MQTTConfig{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestConnectMQTT_Unreachable(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	client, err := ConnectMQTT(MQTTConfig{Broker: "tcp://127.0.0.1:1"}, nil)
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestMQTTSetting(t *testing.T) {
	t.Setenv("CROWNMESH_TEST_SETTING", "")
	assert.Equal(t, "def", mqttSetting("CROWNMESH_TEST_SETTING", "", "def"))
	assert.Equal(t, "cfg", mqttSetting("CROWNMESH_TEST_SETTING", "cfg", "def"))
	t.Setenv("CROWNMESH_TEST_SETTING", "env")
	assert.Equal(t, "env", mqttSetting("CROWNMESH_TEST_SETTING", "cfg", "def"))
}
