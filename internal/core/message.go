package core

import "time"

type SenderType string

const (
	SenderUser    SenderType = "user"
	SenderTrainer SenderType = "trainer"
)

// Message is an append-only chat entry
type Message struct {
	ID           string       `json:"id"`
	ConnectionID ConnectionID `json:"connectionId"`
	SenderType   SenderType   `json:"senderType"`
	Text         string       `json:"text"`
	CreatedAt    time.Time    `json:"createdAt"`
}
