package configdb

import "github.com/cyclopcam/dbh"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type Variable struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}

// SessionEventDetail is optional structured context for a session event
type SessionEventDetail struct {
	Camera     string `json:"camera,omitempty"`
	Room       string `json:"room,omitempty"`
	Generation int64  `json:"generation,omitempty"`
}

// SessionEvent is one entry in the streaming session history.
// Kind is "state" for state transitions, "error" for failures, and "capture" for camera start/stop.
type SessionEvent struct {
	BaseModel
	Time    dbh.IntTime                        `json:"time"`
	Kind    string                             `json:"kind"`
	State   string                             `json:"state"`
	Message string                             `json:"message" gorm:"default:null"`
	Detail  *dbh.JSONField[SessionEventDetail] `json:"detail,omitempty" gorm:"default:null"`
}
