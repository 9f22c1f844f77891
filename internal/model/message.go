package model

import "time"

type ChatMessage struct {
	Content   string    `json:"content"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}
