package configdb

import (
	"time"

	"github.com/cyclopcam/dbh"
)

// Session event kinds
const (
	SessionEventState   = "state"
	SessionEventError   = "error"
	SessionEventCapture = "capture"
)

// Only this many session events are retained
const MaxSessionEvents = 1000

func (c *ConfigDB) AddSessionEvent(kind, state, message string, detail *SessionEventDetail) error {
	ev := &SessionEvent{
		Time:    dbh.MakeIntTime(time.Now()),
		Kind:    kind,
		State:   state,
		Message: message,
	}
	if detail != nil {
		var d dbh.JSONField[SessionEventDetail]
		d.Data = *detail
		ev.Detail = &d
	}
	if err := c.DB.Create(ev).Error; err != nil {
		return err
	}
	return c.purgeOldSessionEvents(MaxSessionEvents)
}

// RecentSessionEvents returns up to limit events, newest first
func (c *ConfigDB) RecentSessionEvents(limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	events := []SessionEvent{}
	if err := c.DB.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (c *ConfigDB) purgeOldSessionEvents(keep int) error {
	return c.DB.Exec("DELETE FROM session_event WHERE id <= (SELECT MAX(id) FROM session_event) - ?", keep).Error
}
