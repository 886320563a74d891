package alerts

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Event is the alert payload published to MQTT for downstream consumers
// (dashboards, automations). The snapshot itself goes to object storage;
// only its URL travels on the bus.
type Event struct {
	Event       string `json:"event"`
	Timestamp   int64  `json:"timestamp"`
	CameraID    string `json:"camera_id"`
	CameraName  string `json:"camera_name"`
	CameraModel string `json:"camera_model"`
	Text        string `json:"text"`
	SnapshotURL string `json:"snapshot_url,omitempty"`
}

type Publisher struct {
	client mqtt.Client
	topic  string
}

type PublisherConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &Publisher{client: client, topic: cfg.Topic}, nil
}

func (p *Publisher) Publish(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	token := p.client.Publish(p.topic, 1, false, payload)
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return fmt.Errorf("mqtt publish timeout")
	}
	return token.Error()
}

func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
