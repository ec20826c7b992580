package api

import "time"

const (
	RequestTimeout          = 5 * time.Second
	RequestRetryMinWaitTime = 1 * time.Second
	RequestRetryMaxWaitTime = 10 * time.Second
	MaxRetries              = 3
)
