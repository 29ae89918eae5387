package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
)

const (
	// IngestSubject is the NATS subject for incoming documents.
	IngestSubject = "corpus.ingest"
	// DLQSubject is the dead letter queue subject for failed documents.
	DLQSubject = "corpus.ingest.dlq"
	// MaxRetries before sending to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Document Document `json:"document"`
	Error    string   `json:"error"`
	Retries  int      `json:"retries"`
}

// StartConsumer subscribes to the ingest subject and runs each document
// through the pipeline. Retryable failures are re-published with an
// incremented retry count until MaxRetries; validation failures and exhausted
// retries go to the DLQ.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	svc := NewService(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var doc Document
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		_, err := svc.Ingest(context.Background(), doc.Text, doc.Meta)
		if err == nil {
			if msg.Reply != "" {
				_ = msg.Ack()
			}
			return
		}

		retries++
		log.Error("ingest: pipeline failed", "error", err, "retry", retries)

		// Validation failures never succeed on retry.
		if retries >= MaxRetries || !domain.IsRetryable(err) {
			dlq := dlqMessage{Document: doc, Error: err.Error(), Retries: retries}
			data, _ := json.Marshal(dlq)
			if pubErr := nc.Publish(DLQSubject, data); pubErr != nil {
				log.Error("ingest: DLQ publish failed", "error", pubErr)
			}
		} else {
			retryMsg := nats.NewMsg(IngestSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
			if pubErr := nc.PublishMsg(retryMsg); pubErr != nil {
				log.Error("ingest: retry publish failed", "error", pubErr)
			}
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
