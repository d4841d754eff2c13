// Package store persists request snapshots and detection results. It is the
// data-access layer a node wraps around the in-memory protocol core.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openreq/openreq/request"
)

// RequestSnapshot wraps a request state for storage as a JSON column.
type RequestSnapshot struct {
	request.Request
}

// Value implements driver.Valuer for database storage.
func (s RequestSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s.Request)
}

// Scan implements sql.Scanner for database retrieval.
func (s *RequestSnapshot) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RequestSnapshot", value)
	}

	return json.Unmarshal(bytes, &s.Request)
}

// StoredRequest is the database model of a materialized request.
type StoredRequest struct {
	RequestID string        `gorm:"column:request_id;primaryKey"`
	State     request.State `gorm:"column:state;not null;index"`
	Creator   string        `gorm:"column:creator;not null"`
	Payee     string        `gorm:"column:payee;index"`
	Payer     string        `gorm:"column:payer;index"`
	Currency  string        `gorm:"column:currency;not null"`
	Network   string        `gorm:"column:network;index"`
	// ExpectedAmount is an integer amount as represented on the ledger.
	// type:varchar(78) is set for sqlite to address the issue of not supporting big decimals.
	ExpectedAmount decimal.Decimal `gorm:"column:expected_amount;type:varchar(78);not null"`
	Snapshot       RequestSnapshot `gorm:"column:snapshot;type:text;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName specifies the table name for the StoredRequest model.
func (StoredRequest) TableName() string {
	return "requests"
}

// DetectionRun is the database model of one balance computation outcome.
type DetectionRun struct {
	ID          string `gorm:"column:id;primaryKey"`
	RequestID   string `gorm:"column:request_id;not null;index"`
	ExtensionID string `gorm:"column:extension_id;not null"`
	// Balance and FeeBalance are null when detection failed.
	Balance      *string   `gorm:"column:balance;type:varchar(78)"`
	FeeBalance   *string   `gorm:"column:fee_balance;type:varchar(78)"`
	EventCount   int       `gorm:"column:event_count;not null"`
	ErrorCode    string    `gorm:"column:error_code"`
	ErrorMessage string    `gorm:"column:error_message"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for the DetectionRun model.
func (DetectionRun) TableName() string {
	return "detection_runs"
}

// DeclaredEvent is the journal row of one attested payment or refund
// declaration, denormalized out of the extension state for querying.
type DeclaredEvent struct {
	ID        string `gorm:"column:id;primaryKey"`
	RequestID string `gorm:"column:request_id;not null;index"`
	Name      string `gorm:"column:name;not null"`
	Amount    string `gorm:"column:amount;type:varchar(78);not null"`
	Note      string `gorm:"column:note"`
	TxHash    string `gorm:"column:tx_hash"`
	Timestamp int64  `gorm:"column:timestamp"`
	CreatedAt time.Time
}

// TableName specifies the table name for the DeclaredEvent model.
func (DeclaredEvent) TableName() string {
	return "declared_events"
}
