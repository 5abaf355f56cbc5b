package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Job struct {
	JobID              string     `db:"job_id"`
	JobStartIdentifier *string    `db:"job_start_identifier"`
	Source             string     `db:"source"`
	Type               string     `db:"type"`
	Build              string     `db:"build"`
	QueueID            string     `db:"queue_id"`
	Creator            string     `db:"creator"`
	Properties         Properties `db:"properties"`
	ListURI            string     `db:"list_uri"`
	ContainerURI       string     `db:"container_uri"`
	ReadSAS            string     `db:"read_sas"`
	WriteSAS           string     `db:"write_sas"`
	MaxRetryCount      int        `db:"max_retry_count"`
	CancellationToken  string     `db:"cancellation_token"`
	State              string     `db:"state"`
	Error              string     `db:"error"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
	FinishedAt         *time.Time `db:"finished_at"`

	// aggregated from work_items, read only
	TotalWorkItems      int `db:"total_work_items"`
	WaitingWorkItems    int `db:"waiting_work_items"`
	DispatchedWorkItems int `db:"dispatched_work_items"`
}

type WorkItem struct {
	Name    string `db:"name"`
	State   string `db:"state"`
	QueueID string `db:"queue_id"`
}

// Properties is a string map stored as a JSONB object
type Properties map[string]string

func (p Properties) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Properties) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Properties{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Properties", src)
	}
	return json.Unmarshal(data, p)
}
