package amqp

import (
	"encoding/json"
	"time"
)

// PaymentRecordedMessage announces a persisted monthly payment. It carries
// identifiers only; the worker fetches current rows from the database, so a
// stale delivery can never overwrite newer data.
type PaymentRecordedMessage struct {
	TransactionID int64     `json:"transaction_id"`
	StudentID     int64     `json:"student_id"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewPaymentRecordedMessage(transactionID, studentID int64, year, month int) *PaymentRecordedMessage {
	return &PaymentRecordedMessage{
		TransactionID: transactionID,
		StudentID:     studentID,
		Year:          year,
		Month:         month,
		Timestamp:     time.Now(),
	}
}

func (m *PaymentRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PaymentRecordedMessageFromJSON(data []byte) (*PaymentRecordedMessage, error) {
	var msg PaymentRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
