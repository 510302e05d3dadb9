package ctlbridge

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/vspi-core/internal/audit"
	"github.com/nerrad567/vspi-core/internal/ctlfs"
	"github.com/nerrad567/vspi-core/internal/multifpgapci"
	"github.com/nerrad567/vspi-core/internal/spi"
)

// maxValueLen bounds a single write, matching a page-sized store buffer.
const maxValueLen = 4096

// ErrValueTooLong is returned for writes larger than maxValueLen.
var ErrValueTooLong = errors.New("ctlbridge: value too long")

// Logger defines the logging interface for the writer and bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuditRecorder queues audit entries. *audit.Recorder implements it.
type AuditRecorder interface {
	Record(e *audit.Entry) bool
}

// MetricsWriter records control-plane writes. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteCtlWrite(source, entry string, errno int)
}

// Request is one control-plane write.
type Request struct {
	// Device is the PCI address; short forms are accepted.
	Device string
	// Entry is the path below the device directory, e.g. "spi/spi_cs".
	Entry string
	Value string

	// Source and Subject identify the caller in the audit trail.
	Source  string
	Subject string
}

// Outcome reports how a write ended.
type Outcome struct {
	Device  multifpgapci.DeviceID
	Entry   string
	Written int
	// Errno is 0 on success.
	Errno unix.Errno
	Err   error
}

// OK reports whether the write succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Writer performs namespace reads and writes on behalf of outer surfaces.
type Writer struct {
	root    *ctlfs.Dir
	audit   AuditRecorder
	metrics MetricsWriter
	logger  Logger
}

// NewWriter creates a writer over the namespace root.
func NewWriter(root *ctlfs.Dir) *Writer {
	return &Writer{root: root, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (w *Writer) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetAudit enables audit recording of writes.
func (w *Writer) SetAudit(rec AuditRecorder) {
	w.audit = rec
}

// SetMetrics enables metrics for writes.
func (w *Writer) SetMetrics(m MetricsWriter) {
	w.metrics = m
}

// Write stores req.Value into the entry and records the outcome.
func (w *Writer) Write(req Request) Outcome {
	out := Outcome{Entry: cleanEntry(req.Entry)}

	id, err := multifpgapci.ParseDeviceID(req.Device)
	switch {
	case err != nil:
	case out.Entry == "":
		err = fmt.Errorf("%w: empty entry path", ctlfs.ErrInvalidName)
	case len(req.Value) > maxValueLen:
		err = fmt.Errorf("%w: %d bytes", ErrValueTooLong, len(req.Value))
	default:
		out.Device = id
		out.Written, err = w.root.Write(id.String()+"/"+out.Entry, req.Value)
	}
	out.Err = err
	out.Errno = Errno(err)

	if err != nil {
		w.logger.Error("control-plane write failed",
			"device", req.Device,
			"entry", out.Entry,
			"source", req.Source,
			"errno", int(out.Errno),
			"error", err,
		)
	} else {
		w.logger.Info("control-plane write",
			"device", out.Device,
			"entry", out.Entry,
			"source", req.Source,
			"value", strings.TrimSpace(req.Value),
		)
	}

	w.record(req, out)
	return out
}

// Read returns the contents of an entry.
func (w *Writer) Read(device, entry string) (string, error) {
	id, err := multifpgapci.ParseDeviceID(device)
	if err != nil {
		return "", err
	}
	return w.root.Read(id.String() + "/" + cleanEntry(entry))
}

// List returns the entries of a directory below a device. An empty entry
// lists the device directory itself.
func (w *Writer) List(device, entry string) ([]ctlfs.Entry, error) {
	id, err := multifpgapci.ParseDeviceID(device)
	if err != nil {
		return nil, err
	}
	path := id.String()
	if e := cleanEntry(entry); e != "" {
		path += "/" + e
	}
	return w.root.List(path)
}

func (w *Writer) record(req Request, out Outcome) {
	if w.metrics != nil {
		w.metrics.WriteCtlWrite(req.Source, out.Entry, int(out.Errno))
	}
	if w.audit == nil {
		return
	}

	errno := int(out.Errno)
	details := map[string]any{
		"entry": out.Entry,
		"value": strings.TrimSpace(req.Value),
	}
	if out.Err != nil {
		details["error"] = out.Err.Error()
	}
	device := out.Device.String()
	if device == "" {
		device = req.Device
	}
	if !w.audit.Record(&audit.Entry{
		Action:  audit.ActionWrite,
		Device:  device,
		Source:  req.Source,
		Subject: req.Subject,
		Errno:   &errno,
		Details: details,
	}) {
		w.logger.Warn("audit queue full, write not recorded", "device", device, "entry", out.Entry)
	}
}

// Errno maps a write error onto its errno. nil maps to 0.
func Errno(err error) unix.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, multifpgapci.ErrInvalidDeviceID):
		return unix.EINVAL
	case errors.Is(err, ErrValueTooLong):
		return unix.E2BIG
	default:
		return spi.Errno(err)
	}
}

// cleanEntry trims slashes and whitespace from an entry path.
func cleanEntry(entry string) string {
	return strings.Trim(strings.TrimSpace(entry), "/")
}
