package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"echofield.ai/internal/sim/field"
)

const hourLayout = "2006-01-02-15"

// segment is one open <prefix>-<hour>.jsonl.zst file.
type segment struct {
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{hour: hour, f: f, enc: enc, buf: bufio.NewWriterSize(enc, 64*1024)}, nil
}

func (s *segment) close() error {
	flushErr := s.buf.Flush()
	encErr := s.enc.Close()
	fileErr := s.f.Close()
	switch {
	case flushErr != nil:
		return flushErr
	case encErr != nil:
		return encErr
	default:
		return fileErr
	}
}

// JSONLZstdWriter appends JSON records to hourly zstd segments under baseDir.
// Each record is flushed through the encoder. Reopening an hour appends a new
// zstd frame to the existing segment.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	seg     *segment
	records uint64
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	hour := w.now().UTC().Format(hourLayout)
	if w.seg == nil || w.seg.hour != hour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.seg.buf.Write(b); err != nil {
		return err
	}
	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	if err := w.seg.enc.Flush(); err != nil {
		return err
	}
	w.records++
	return nil
}

// Records is the number of records written since the writer was created.
func (w *JSONLZstdWriter) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if w.seg != nil {
		if err := w.seg.close(); err != nil {
			return err
		}
		w.seg = nil
	}
	seg, err := openSegment(w.pathForHour(hour), hour)
	if err != nil {
		return err
	}
	w.seg = seg
	return nil
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// StepLogger writes one record per completed step to events/steps-*.jsonl.zst.
type StepLogger struct{ w *JSONLZstdWriter }

func NewStepLogger(fieldDir string) *StepLogger {
	return &StepLogger{w: NewJSONLZstdWriter(filepath.Join(fieldDir, "events"), "steps")}
}

func (l *StepLogger) WriteStep(e field.StepLogEntry) error { return l.w.Write(e) }
func (l *StepLogger) Records() uint64                      { return l.w.Records() }
func (l *StepLogger) Close() error                         { return l.w.Close() }

// EventLogger writes injections and interventions to governance/governance-*.jsonl.zst.
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(fieldDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(fieldDir, "governance"), "governance")}
}

func (l *EventLogger) WriteEvent(ev field.GovernanceEvent) error { return l.w.Write(ev) }
func (l *EventLogger) Records() uint64                          { return l.w.Records() }
func (l *EventLogger) Close() error                             { return l.w.Close() }
