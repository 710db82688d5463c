package monitor

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTOptions locate the broker. Events go to <Topic>/<event type>.
type MQTTOptions struct {
	Host     string
	Port     int
	User     string
	Pass     string
	TLS      bool
	Topic    string
	ClientID string
}

func (o *MQTTOptions) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.Host, "mqtt-host", "", "MQTT server host")
	fs.IntVar(&o.Port, "mqtt-port", 1883, "MQTT server port")
	fs.StringVar(&o.User, "mqtt-user", "", "MQTT username")
	fs.StringVar(&o.Pass, "mqtt-pass", "", "MQTT password")
	fs.BoolVar(&o.TLS, "mqtt-tls", false, "Use TLS for MQTT")
	fs.StringVar(&o.Topic, "mqtt-topic", "arqtransfer", "MQTT topic prefix for transfer events")
}

func (o MQTTOptions) Enabled() bool { return o.Host != "" }

func (o MQTTOptions) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	addr := fmt.Sprintf("tcp://%s:%d", o.Host, o.Port)
	if o.TLS {
		addr = fmt.Sprintf("ssl://%s:%d", o.Host, o.Port)
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.AddBroker(addr)
	if o.User != "" {
		opts.SetUsername(o.User)
		opts.SetPassword(o.Pass)
	}
	if o.ClientID != "" {
		opts.SetClientID(o.ClientID)
	}
	opts.SetAutoReconnect(true)
	return opts
}

func connect(o MQTTOptions) (mqtt.Client, error) {
	client := mqtt.NewClient(o.clientOptions())
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

// MQTT publishes events as JSON.
type MQTT struct {
	client mqtt.Client
	topic  string
	log    *logrus.Entry
}

func DialMQTT(o MQTTOptions, log *logrus.Entry) (*MQTT, error) {
	client, err := connect(o)
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to MQTT broker at %s:%d", o.Host, o.Port)
	return &MQTT{client: client, topic: o.Topic, log: log}, nil
}

func (m *MQTT) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.log.Warnf("Encoding event: %v", err)
		return
	}
	token := m.client.Publish(m.topic+"/"+string(ev.Type), 0, false, payload)
	go func() {
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			m.log.Warnf("Error publishing to MQTT: %v", token.Error())
		}
	}()
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// Subscribe delivers every event published under the topic prefix to fn.
// Payloads that are not events are skipped.
func Subscribe(o MQTTOptions, log *logrus.Entry, fn func(Event)) (func(), error) {
	client, err := connect(o)
	if err != nil {
		return nil, err
	}
	token := client.Subscribe(o.Topic+"/#", 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Debugf("Skipping non-event payload on %s: %v", msg.Topic(), err)
			return
		}
		fn(ev)
	})
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe: %w", token.Error())
	}
	return func() { client.Disconnect(250) }, nil
}
