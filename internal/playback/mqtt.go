package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"announce_scheduler/internal/domain"
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// PlayCommand is the payload speaker devices receive on
// <prefix>/<org_id>/play.
type PlayCommand struct {
	QueueID        int64           `json:"queue_id"`
	AnnouncementID int64           `json:"announcement_id"`
	OrgID          int64           `json:"org_id"`
	Priority       domain.Priority `json:"priority"`
	Text           string          `json:"text"`
	AudioURL       string          `json:"audio_url,omitempty"`
	IssuedAt       time.Time       `json:"issued_at"`
}

// mqttClient is the subset of mqtt.Client the player needs.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPlayer hands deliveries to the organization's speakers over MQTT.
// Play returns once the broker has acknowledged the command.
type MQTTPlayer struct {
	client mqttClient
	prefix string
	qos    byte
	logger *slog.Logger
}

func NewMQTTPlayer(cfg MQTTConfig, logger *slog.Logger) (*MQTTPlayer, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to mqtt broker", "broker", cfg.Broker)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return newMQTTPlayer(client, cfg.TopicPrefix, cfg.QoS, logger), nil
}

func newMQTTPlayer(client mqttClient, prefix string, qos byte, logger *slog.Logger) *MQTTPlayer {
	return &MQTTPlayer{
		client: client,
		prefix: prefix,
		qos:    qos,
		logger: logger,
	}
}

func (p *MQTTPlayer) Topic(orgID int64) string {
	return fmt.Sprintf("%s/%d/play", p.prefix, orgID)
}

func (p *MQTTPlayer) Play(ctx context.Context, d *domain.Delivery) error {
	cmd := PlayCommand{
		QueueID:        d.ID,
		AnnouncementID: d.AnnouncementID,
		OrgID:          d.OrgID,
		Priority:       d.Priority,
		Text:           d.Text(),
		IssuedAt:       time.Now().UTC(),
	}
	if d.AudioURL != nil {
		cmd.AudioURL = *d.AudioURL
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal play command: %w", err)
	}

	topic := p.Topic(d.OrgID)
	token := p.client.Publish(topic, p.qos, false, payload)

	select {
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debug("play command sent", "topic", topic, "queue_id", d.ID)
	return nil
}

func (p *MQTTPlayer) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}
