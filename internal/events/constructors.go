package events

import (
	"time"

	"github.com/google/uuid"
)

// NewAlertEvent creates a new alert event with the given code and detail.
func NewAlertEvent(code AlertCode, severity Severity, message string, data map[string]interface{}) *Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Event{
		ID:        uuid.New().String(),
		Category:  CategoryAlert,
		Code:      code,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
		Data:      data,
	}
}

// NewLoopTimeEvent creates a loop-time measurement event. The measured elapsed
// time is carried in seconds under the "loop_time_seconds" key so external
// telemetry can consume it without parsing the message.
func NewLoopTimeEvent(elapsed time.Duration) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Category:  CategoryLoopTime,
		Timestamp: time.Now(),
		Severity:  SeverityInfo,
		Message:   "scheduler loop time measured",
		Data: map[string]interface{}{
			"loop_time_seconds": elapsed.Seconds(),
		},
	}
}
