package domain

import amqp "github.com/rabbitmq/amqp091-go"

// Job is the part of a job row the worker needs to expand it
type Job struct {
	JobID         string `db:"job_id"`
	QueueID       string `db:"queue_id"`
	ListURI       string `db:"list_uri"`
	ReadSAS       string `db:"read_sas"`
	ContainerURI  string `db:"container_uri"`
	RetryCount    int    `db:"retry_count"`
	MaxRetryCount int    `db:"max_retry_count"`
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID        string            `json:"job_id"`
	DeliveryTag  uint64            `json:"-"`
	Acknowledger amqp.Acknowledger `json:"-"`
}

// WorkItemMessage is published to every queue a work item runs on
type WorkItemMessage struct {
	JobID                  string   `json:"job_id"`
	WorkItemID             string   `json:"work_item_id"`
	Command                string   `json:"command"`
	PayloadURI             *string  `json:"payload_uri"`
	CorrelationPayloadURIs []string `json:"correlation_payload_uris"`
	TimeoutInSeconds       int      `json:"timeout_in_seconds"`
	QueueID                string   `json:"queue_id"`
	MaxRetryCount          int      `json:"max_retry_count"`
	// SasValidHours is set on secondary queue copies only
	SasValidHours float64 `json:"sas_valid_hours,omitempty"`
}
