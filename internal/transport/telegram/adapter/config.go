package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendTimeout bounds a single API call; 0 keeps telebot's client default.
	SendTimeout time.Duration
	// APIURL overrides the Bot API endpoint (self-hosted Bot API servers).
	APIURL string
}
