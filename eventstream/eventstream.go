// Package eventstream emits the line-delimited JSON protocol the
// engine speaks on its output stream: zero or more progress/log event
// records, followed by exactly one terminal response record. Every
// record is flushed immediately so a reader streaming the process's
// output sees progress in real time.
//
// Grounded on emit_progress/emit_progress_bytes/emit_log/write_response
// in the original helper; this package exists so that invariant is
// enforced in one place rather than scattered across the planner.
package eventstream

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// ProgressEvent is a `{"type":"progress",...}` record.
type ProgressEvent struct {
	Type       string `json:"type"`
	Phase      string `json:"phase"`
	Percent    uint64 `json:"percent"`
	Total      uint64 `json:"total"`
	Message    string `json:"message,omitempty"`
	Bytes      uint64 `json:"bytes"`
	TotalBytes uint64 `json:"totalBytes"`
}

// LogEvent is a `{"type":"log",...}` record.
type LogEvent struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Line   string `json:"line"`
}

// Response is the single terminal record that ends the exchange. It
// carries no "type" field, distinguishing it from event records.
type Response struct {
	OK      bool `json:"ok"`
	Message *string `json:"message,omitempty"`
	Details any  `json:"details,omitempty"`
}

// Stream writes the event/response protocol to an underlying writer.
// It does not itself flush the writer beyond calling Write — callers
// pass an *os.File (or a bufio.Writer they flush) as w.
type Stream struct {
	w io.Writer
}

// New creates a Stream writing to w, conventionally os.Stdout.
func New(w io.Writer) *Stream {
	return &Stream{w: w}
}

// Progress emits a progress event. percent is computed by the caller,
// typically via PercentOf.
func (s *Stream) Progress(phase string, percent, total uint64, message string, bytes, totalBytes uint64) error {
	return s.writeLine(ProgressEvent{
		Type: "progress", Phase: phase, Percent: percent, Total: total,
		Message: message, Bytes: bytes, TotalBytes: totalBytes,
	})
}

// Log emits a log event carrying one line of external-tool output.
func (s *Stream) Log(source, line string) error {
	return s.writeLine(LogEvent{Type: "log", Source: source, Line: line})
}

// Respond emits the terminal response. It must be called exactly once,
// as the last record written to the stream.
func (s *Stream) Respond(ok bool, message string, details any) error {
	resp := Response{OK: ok, Details: details}
	if message != "" {
		resp.Message = &message
	}
	return s.writeLine(resp)
}

func (s *Stream) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')
	_, err = s.w.Write(data)
	return err
}

// PercentOf rounds copied/total to an integer percentage, matching the
// original helper's `(copied as f64 / size as f64 * 100.0).round()`.
// total == 0 returns 0 rather than dividing by zero.
func PercentOf(copied, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return uint64(math.Round(float64(copied) / float64(total) * 100))
}
