package core

import (
	"fmt"
	"sync"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures one bus transaction for post-mortem analysis
type TraceEvent struct {
	Kind   uint8      // Event type code
	Addr   I2CAddress // Device address on the bus
	Offset uint16     // In-chip offset from the transaction header
	Len    int        // Payload (write) or requested (read) length
	Failed bool
}

// Event type codes
const (
	EvtWrite = 1 // write transaction (header + payload)
	EvtRead  = 2 // cursor write followed by read
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	traceMu       sync.Mutex
	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, slog, etc.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// Debugf formats only when debug output is enabled.
func Debugf(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	DebugPrintln(fmt.Sprintf(format, args...))
}

// RecordTrace captures a transaction in the ring buffer
func RecordTrace(kind uint8, addr I2CAddress, offset uint16, n int, failed bool) {
	traceMu.Lock()
	defer traceMu.Unlock()

	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		Kind:   kind,
		Addr:   addr,
		Offset: offset,
		Len:    n,
		Failed: failed,
	}
	traceRingHead = (idx + 1) % TraceRingSize
}

// TraceEvents returns the recorded events, oldest first.
func TraceEvents() []TraceEvent {
	traceMu.Lock()
	defer traceMu.Unlock()

	events := make([]TraceEvent, 0, TraceRingSize)
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(start+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

// DumpTrace outputs the trace ring through the debug writer regardless of
// the enable flag (call on error)
func DumpTrace() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Transaction Ring Dump ===")
	for _, evt := range TraceEvents() {
		var name string
		switch evt.Kind {
		case EvtWrite:
			name = "WRITE"
		case EvtRead:
			name = "READ"
		default:
			name = "UNKNOWN"
		}
		status := ""
		if evt.Failed {
			status = " FAILED"
		}
		debugPrintln(fmt.Sprintf("[TRACE] %s addr=0x%02x offset=0x%04x len=%d%s",
			name, evt.Addr, evt.Offset, evt.Len, status))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace clears the trace buffer
func ClearTrace() {
	traceMu.Lock()
	defer traceMu.Unlock()

	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
}
