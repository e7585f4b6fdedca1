package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// RabbitMQConfig describes a connection to the broker's MQTT plugin.
type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	// ManualAck disables paho's automatic acknowledgement so that consumers
	// decide per message whether the broker may forget it.
	ManualAck bool
	// CleanSession=false keeps the subscription and unacknowledged QoS1
	// messages across reconnects.
	CleanSession bool
}

// BrokerURL returns the tcp:// address of the broker.
func (cfg *RabbitMQConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
}

func clientOptions(cfg *RabbitMQConfig, log *zap.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetAutoAckDisabled(cfg.ManualAck)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost", zap.Error(err))
	})
	return opts
}

// NewRabbitMQConn connects with exponential backoff and disconnects when ctx is done.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQConfig, log *zap.Logger) (mqtt.Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := clientOptions(cfg, log)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	maxRetries := 5

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn("failed to connect to MQTT broker", zap.String("broker", cfg.BrokerURL()), zap.Error(token.Error()))
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info("connected to MQTT broker", zap.String("broker", cfg.BrokerURL()), zap.String("client_id", cfg.ClientID))

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Info("MQTT connection closed")
	}()

	return client, nil
}

func CloseRabbitMQConn(client mqtt.Client, log *zap.Logger) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		if log != nil {
			log.Info("MQTT connection successfully closed")
		}
	}
}
