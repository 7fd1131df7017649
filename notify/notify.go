// Package notify implements the optional downstream notification sink:
// a fire-and-forget Kafka publish of one ClaimMessage per successful
// broadcast. Grounded on original_source/src/kafka/mod.rs, translated
// from rdkafka's FutureProducer to Shopify/sarama's AsyncProducer, which
// gives the same non-blocking enqueue-and-forget semantics.
package notify

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"
	"github.com/google/uuid"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by notify.
func UseLogger(logger btclog.Logger) { log = logger }

// ClaimMessage is the payload published for every successful claim
// broadcast.
type ClaimMessage struct {
	SwapID      string `json:"swap_id"`
	ClaimTxID   string `json:"claim_tx_id"`
	ClaimTxTime int64  `json:"claim_tx_time"`
	MessageID   string `json:"message_id"`
}

// Publisher is the notification surface the Constructor depends on.
// PublishClaim never blocks the caller and never returns an error: a
// failed publish logs and is otherwise swallowed, matching spec.md §4.7's
// "failure logs an error and does not block claim persistence".
type Publisher interface {
	PublishClaim(swapID string, claimTxID chainhash.Hash)
	Close() error
}

// noopPublisher is used when no notification sink is configured.
type noopPublisher struct{}

func (noopPublisher) PublishClaim(string, chainhash.Hash) {}
func (noopPublisher) Close() error                        { return nil }

// Noop returns a Publisher that discards every claim notification.
func Noop() Publisher { return noopPublisher{} }

// Config configures the Kafka-backed publisher.
type Config struct {
	Brokers  []string
	Topic    string
	Username string
	Password string
}

// KafkaPublisher publishes ClaimMessage records to a Kafka topic via an
// async producer, so a slow or unavailable broker never blocks claim
// persistence.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
}

// NewKafka builds a KafkaPublisher, only enabling SASL/PLAIN auth when
// both Username and Password are non-empty (mirroring the Rust client's
// conditional SASL setup).
func NewKafka(cfg Config) (*KafkaPublisher, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = false
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.Timeout = 5 * time.Second

	if cfg.Username != "" && cfg.Password != "" {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		saramaCfg.Net.SASL.User = cfg.Username
		saramaCfg.Net.SASL.Password = cfg.Password
		saramaCfg.Net.TLS.Enable = true
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}

	p := &KafkaPublisher{producer: producer, topic: cfg.Topic}
	go p.drainErrors()
	return p, nil
}

func (p *KafkaPublisher) drainErrors() {
	for err := range p.producer.Errors() {
		log.Errorf("failed to send claim message: %v", err)
	}
}

// PublishClaim builds the ClaimMessage, stamps it with a fresh UUIDv4
// message id used both as the field and the Kafka partition key, and
// enqueues it without waiting for broker acknowledgement.
func (p *KafkaPublisher) PublishClaim(swapID string, claimTxID chainhash.Hash) {
	msg := ClaimMessage{
		SwapID:      swapID,
		ClaimTxID:   claimTxID.String(),
		ClaimTxTime: time.Now().Unix(),
		MessageID:   uuid.NewString(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("marshal claim message: %v", err)
		return
	}

	log.Infof("sending claim message: swap_id=%s claim_tx_id=%s", msg.SwapID, msg.ClaimTxID)

	select {
	case p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.MessageID),
		Value: sarama.ByteEncoder(payload),
	}:
	default:
		log.Warnf("claim message producer input full, dropping message for swap %s", swapID)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
