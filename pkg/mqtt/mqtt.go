package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/benmeehan/iot-provisioner/pkg/file"
)

// MQTTClient defines the subset of the paho client used for publishing.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends messages to a broker.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
	Close()
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	client         MQTTClient
	fileClient     file.FileOperations
	publishTimeout time.Duration
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations) *MqttService {
	return &MqttService{
		fileClient:     fileClient,
		publishTimeout: 5 * time.Second,
	}
}

// NewMqttServiceWithClient wraps an already constructed client.
func NewMqttServiceWithClient(client MQTTClient) *MqttService {
	return &MqttService{client: client, publishTimeout: 5 * time.Second}
}

// Initialize sets up the MQTT client and connects. TLS is used when caCertPath is set.
func (s *MqttService) Initialize(broker, clientID, caCertPath string) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	if caCertPath != "" {
		caCert, err := s.fileClient.ReadFileRaw(caCertPath)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %v", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to append CA certificate")
		}
		opts.SetTLSConfig(&tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12})
	}

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	return nil
}

// Publish sends payload to topic and waits for the broker to acknowledge it.
func (s *MqttService) Publish(topic string, qos byte, payload []byte) error {
	token := s.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(s.publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Close gracefully disconnects the MQTT client.
func (s *MqttService) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
