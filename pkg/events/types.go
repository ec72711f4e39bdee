package events

import "encoding/json"

// Event name constants
const (
	IMUState       = "imu.state"
	IMUOrientation = "imu.orientation"
	RoutineRun     = "routine.run"

	ScheduleUpcoming = "schedule.upcoming"
	ScheduleError    = "schedule.error"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// IMUStateEvent is the payload for imu.state. It is published on every
// availability change and on every failed transaction.
type IMUStateEvent struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
	Ts    int64  `json:"ts"`
}

// IMUOrientationEvent is the payload for imu.orientation.
type IMUOrientationEvent struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
	Ts    int64   `json:"ts"`
}

// RoutineRunEvent is the payload for routine.run.
type RoutineRunEvent struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Ts    int64  `json:"ts"`
}

// ScheduleUpcomingEvent is the payload for schedule.upcoming.
type ScheduleUpcomingEvent struct {
	Index   int    `json:"index"`
	Routine string `json:"routine"`
	RunAt   int64  `json:"runAt"`
}

// ScheduleErrorEvent is the payload for schedule.error.
type ScheduleErrorEvent struct {
	Index   int    `json:"index"`
	Routine string `json:"routine"`
	Error   string `json:"error"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.IMUStateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
