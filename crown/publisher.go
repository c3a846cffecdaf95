package crown

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultPublishPrefix is the topic root when none is configured.
const DefaultPublishPrefix = "crownmesh"

// mqttSetting prefers the environment, then the config file, then def.
func mqttSetting(env, configured, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return def
}

// ConnectMQTT connects to the configured broker. MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME and MQTT_PASSWORD override the config file. A nil client
// and nil error mean publishing is disabled.
func ConnectMQTT(cfg MQTTConfig, logger *zap.SugaredLogger) (mqtt.Client, error) {
	logger = orNop(logger)

	broker := mqttSetting("MQTT_BROKER", cfg.Broker, "")
	if broker == "" {
		logger.Debugw("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(mqttSetting("MQTT_CLIENT_ID", cfg.ClientID, DefaultPublishPrefix))

	if username := mqttSetting("MQTT_USERNAME", cfg.Username, ""); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(mqttSetting("MQTT_PASSWORD", cfg.Password, ""))
	}

	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	logger.Infow("Connecting to MQTT broker", "broker", broker)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", broker, err)
	}
	return client, nil
}

// ResultPublisher publishes run results to MQTT.
type ResultPublisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	logger        *zap.SugaredLogger
}

// NewResultPublisher creates a publisher. MQTT_PUBLISH_PREFIX overrides
// prefix; an empty result falls back to DefaultPublishPrefix.
func NewResultPublisher(client mqtt.Client, prefix string, logger *zap.SugaredLogger) *ResultPublisher {
	return &ResultPublisher{
		client:        client,
		publishPrefix: mqttSetting("MQTT_PUBLISH_PREFIX", prefix, DefaultPublishPrefix),
		qos:           1,
		retain:        false,
		logger:        orNop(logger),
	}
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *ResultPublisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *ResultPublisher) SetRetain(retain bool) {
	p.retain = retain
}

// runMessage is the summary payload of a metrics run.
type runMessage struct {
	RunSummary
	Trees []CrownMetrics `json:"treeMetrics"`
}

// PublishRun publishes the run summary with every tree's metrics to
// {prefix}/runs/{runId}, each tree to {prefix}/runs/{runId}/trees/{treeId}
// and the summary alone, retained, to {prefix}/latest.
func (p *ResultPublisher) PublishRun(summary RunSummary, records []CrownRecord) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	msg := runMessage{RunSummary: summary, Trees: make([]CrownMetrics, len(records))}
	for i, r := range records {
		msg.Trees[i] = r.Metrics
	}
	runTopic := fmt.Sprintf("%s/runs/%s", p.publishPrefix, summary.RunID)
	if err := p.publishJSON(runTopic, msg, p.retain); err != nil {
		return err
	}

	for _, r := range records {
		topic := fmt.Sprintf("%s/trees/%d", runTopic, r.TreeID)
		if err := p.publishJSON(topic, r.Metrics, p.retain); err != nil {
			return err
		}
	}

	if err := p.publishJSON(p.publishPrefix+"/latest", summary, true); err != nil {
		return err
	}
	p.logger.Infow("Published run", "run_id", summary.RunID, "trees", len(records))
	return nil
}

// clipMessage is the payload of a clip run.
type clipMessage struct {
	PlotID       string   `json:"plotId"`
	TreeField    string   `json:"treeField"`
	Degraded     bool     `json:"degraded"`
	Trees        int      `json:"trees"`
	Retained     []TreeID `json:"retained"`
	MeanFraction float64  `json:"meanFraction"`
	PointsIn     int      `json:"pointsIn"`
	PointsOut    int      `json:"pointsOut"`
	Timestamp    int64    `json:"timestamp"`
}

// PublishClip publishes a clip report to {prefix}/clips/{plotId}.
func (p *ResultPublisher) PublishClip(report *ClipReport) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	msg := clipMessage{
		PlotID:       report.PlotID,
		TreeField:    report.TreeField.Name,
		Degraded:     report.TreeField.Degraded,
		Trees:        report.Trees,
		Retained:     report.Retained,
		MeanFraction: report.MeanFraction,
		PointsIn:     report.PointsIn,
		PointsOut:    report.PointsOut,
		Timestamp:    time.Now().Unix(),
	}
	return p.publishJSON(fmt.Sprintf("%s/clips/%s", p.publishPrefix, report.PlotID), msg, p.retain)
}

func (p *ResultPublisher) publishJSON(topic string, v interface{}, retain bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publishing to %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
