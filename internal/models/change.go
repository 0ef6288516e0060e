package models

import "time"

// Operation is the kind of mutation a change record describes
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// EntityUser tags user-level change records
const EntityUser = "user"

// ChangeRecord describes one mutation. PreviousData is set for updates and deletes.
type ChangeRecord struct {
	Operation    Operation
	Entity       string
	UserID       string
	Data         Fields
	PreviousData Fields
	TxID         string
}

// Transaction is one append to the audit channel.
// ExternalMessageID is empty in local-only mode and when delivery failed.
type Transaction struct {
	TxID              string
	Timestamp         time.Time
	Changes           []ChangeRecord
	ExternalMessageID string
	Confirmed         bool
	Err               error
}
