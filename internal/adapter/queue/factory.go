package queue

import (
	"fmt"

	"go.uber.org/zap"
)

// Subjects published by the voice engine. Downstream consumers (budget
// alerts, analytics) bind to these.
const (
	SubjectSessionStarted      = "voice.session.started"
	SubjectSessionStopped      = "voice.session.stopped"
	SubjectSessionTimeout      = "voice.session.timeout"
	SubjectSessionError        = "voice.session.error"
	SubjectTurnCompleted       = "voice.turn.completed"
	SubjectTransactionRecorded = "ledger.transaction.recorded"
	SubjectTransactionUpdated  = "ledger.transaction.updated"
	SubjectTransactionDeleted  = "ledger.transaction.deleted"
)

// New builds the message queue adapter for the configured driver.
// Supported drivers: "nats", "rabbitmq".
func New(driver, url string, log *zap.Logger) (MessageQueue, error) {
	switch driver {
	case "nats":
		return NewNATSQueue(url, log)
	case "rabbitmq":
		return NewRabbitMQQueue(url, log)
	default:
		return nil, fmt.Errorf("unknown queue driver: %q", driver)
	}
}
