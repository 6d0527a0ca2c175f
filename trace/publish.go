package trace

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"

	"github.com/janelia-flyem/horta/horta"
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * horta.Kilo

// Event describes a finished trace job.
type Event struct {
	JobID      string  `json:"job_id"`
	Anchor1    uint64  `json:"anchor1"`
	Anchor2    uint64  `json:"anchor2"`
	NeuronID   uint64  `json:"neuron_id,omitempty"`
	Outcome    string  `json:"outcome"`
	PathLength int     `json:"path_length"`
	Cost       float64 `json:"cost"`
	Expanded   int     `json:"expanded"`
	ElapsedMs  float64 `json:"elapsed_ms"`
	Error      string  `json:"error,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// NewEvent summarizes a job.
func NewEvent(jobID string, req PathTraceRequest, r Result, err error) Event {
	e := Event{
		JobID:      jobID,
		Anchor1:    req.Segment.Anchor1,
		Anchor2:    req.Segment.Anchor2,
		NeuronID:   req.NeuronID,
		Outcome:    r.Outcome.String(),
		PathLength: len(r.Path),
		Cost:       r.Cost,
		Expanded:   r.Expanded,
		ElapsedMs:  float64(r.Elapsed) / float64(time.Millisecond),
		Timestamp:  time.Now().Unix(),
	}
	if err != nil {
		e.Outcome = "error"
		e.Error = err.Error()
	}
	return e
}

// Publisher sends job events somewhere.
type Publisher interface {
	Publish(Event) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
func (NopPublisher) Close() error        { return nil }

// KafkaPublisher sends events as JSON to a Kafka topic, keyed by segment.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	done     chan struct{}
}

// NewKafkaPublisher connects to the Kafka servers.
func NewKafkaPublisher(servers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	producer, err := sarama.NewAsyncProducer(servers, config)
	if err != nil {
		return nil, err
	}
	horta.Infof("Kafka topic for trace events: %s\n", topic)
	return NewKafkaPublisherFromProducer(producer, topic), nil
}

// NewKafkaPublisherFromProducer uses an existing producer.
func NewKafkaPublisherFromProducer(producer sarama.AsyncProducer, topic string) *KafkaPublisher {
	p := &KafkaPublisher{producer: producer, topic: topic, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for err := range producer.Errors() {
			horta.Errorf("error on kafka send: %v\n", err)
		}
	}()
	return p
}

func (p *KafkaPublisher) Publish(e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := NewSegmentIndex(e.Anchor1, e.Anchor2).String()
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	return nil
}

// Close flushes queued events and shuts down the producer.
func (p *KafkaPublisher) Close() error {
	err := p.producer.Close()
	<-p.done
	if err != nil {
		horta.Errorf("Kafka producer had error on close: %v\n", err)
		return err
	}
	horta.Infof("Successfully shut down kafka producer.\n")
	return nil
}
