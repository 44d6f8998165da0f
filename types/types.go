package types

// ---- Component status (retained) ----

// ComponentStatus is published on {"component", <name>, "status"} whenever a
// component changes state or status flags. Message is a reference to a static
// string supplied by the component; it is never a formatted value.
type ComponentStatus struct {
	State   string `json:"state"` // "construction", "setup", "loop", "loop_done", "failed"
	Warning bool   `json:"warning"`
	Error   bool   `json:"error"`
	Message string `json:"message,omitempty"`
	TS      int64  `json:"ts_ms"`
}

// ---- Measurement payloads ----

// Fixed-point payloads; deci units keep floats off the hot path.

type Environment struct {
	DeciCelsius     int32 `json:"deci_c"`
	DeciRelHumidity int32 `json:"deci_percent"`
	TS              int64 `json:"ts_ms"`
}

type Uptime struct {
	Seconds int64 `json:"seconds"`
	TS      int64 `json:"ts_ms"`
}

type ButtonEvent struct {
	Pressed bool  `json:"pressed"`
	TS      int64 `json:"ts_ms"`
}
