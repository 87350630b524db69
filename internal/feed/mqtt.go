package feed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/spectro.cam/internal/monitoring"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQueueSize      = 16
)

// Publisher is the part of an MQTT client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTStats counts sink activity.
type MQTTStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// MQTTSink republishes feed payloads to a broker topic at QoS 0.
type MQTTSink struct {
	pub    Publisher
	client mqtt.Client
	topic  string

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTTSink connects to broker (for example tcp://localhost:1883).
func NewMQTTSink(broker, clientID, topic string) (*MQTTSink, error) {
	options := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("[MQTT] connection lost: %v", err)
		})

	c := mqtt.NewClient(options)
	token := c.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	monitoring.Logf("[MQTT] connected to %s, publishing to %s", broker, topic)

	s := NewMQTTSinkWithPublisher(c, topic)
	s.client = c
	return s, nil
}

// NewMQTTSinkWithPublisher wraps an existing publisher.
func NewMQTTSinkWithPublisher(pub Publisher, topic string) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic}
}

// Run publishes each payload from the feed server subscription until ctx
// is done or the server closes the subscription. Payloads arriving while a
// publish is outstanding are dropped once the local queue is full.
func (s *MQTTSink) Run(ctx context.Context, srv *Server) {
	id, payloads := srv.Subscribe()
	defer srv.Unsubscribe(id)
	s.Publish(ctx, payloads)
}

// Publish forwards payloads until ctx is done or payloads is closed.
func (s *MQTTSink) Publish(ctx context.Context, payloads <-chan []byte) {
	queue := make(chan []byte, mqttQueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range queue {
			s.publish(p)
		}
	}()
	defer func() {
		close(queue)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-payloads:
			if !ok {
				return
			}
			select {
			case queue <- p:
			default:
				s.dropped.Add(1)
				monitoring.Debugf("[MQTT] queue full, dropping payload")
			}
		}
	}
}

func (s *MQTTSink) publish(payload []byte) {
	token := s.pub.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		s.failed.Add(1)
		monitoring.Logf("[MQTT] publish to %s timed out", s.topic)
		return
	}
	if err := token.Error(); err != nil {
		s.failed.Add(1)
		monitoring.Logf("[MQTT] publish to %s failed: %v", s.topic, err)
		return
	}
	s.published.Add(1)
}

// Stats returns the current counters.
func (s *MQTTSink) Stats() MQTTStats {
	return MQTTStats{
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Close disconnects a sink created with NewMQTTSink.
func (s *MQTTSink) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
