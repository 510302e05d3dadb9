package bootinit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nerrad567/vspi-core/internal/infrastructure/config"
	"github.com/nerrad567/vspi-core/internal/process"
)

// Step names used in logs, the Report and metrics.
const (
	StepBlacklist  = "blacklist"
	StepDeviceJSON = "device_json"
	StepASICInit   = "asic_init"
)

// MeasurementBoot is the InfluxDB measurement for boot step outcomes.
const MeasurementBoot = "boot_steps"

// blacklistHeader starts every generated blacklist file.
const blacklistHeader = "# Generated by vspid. Changes are overwritten at boot.\n"

// Logger defines the logging interface for the boot sequence.
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

// MetricsWriter receives one point per executed step. *influxdb.Client
// implements it.
type MetricsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
}

// RunFunc executes a command. process.Run is the default.
type RunFunc func(ctx context.Context, cfg process.Config, logger process.Logger) (process.Result, error)

// StepResult records the outcome of one step.
type StepResult struct {
	Name     string
	Skipped  bool
	Err      error
	Duration time.Duration

	// ExitCode is set for the ASIC init step.
	ExitCode int
}

// Report lists the outcome of every step in order.
type Report struct {
	Steps []StepResult
}

// Failed returns the steps that ran and failed.
func (r Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Sequence is a configured boot sequence.
type Sequence struct {
	cfg     config.BootConfig
	devices []config.FPGADeviceConfig
	timeout time.Duration

	logger  Logger
	metrics MetricsWriter
	run     RunFunc
}

// New creates a sequence for the given boot settings and device list.
// asicTimeout bounds the ASIC init run.
func New(cfg config.BootConfig, devices []config.FPGADeviceConfig, asicTimeout time.Duration) *Sequence {
	return &Sequence{
		cfg:     cfg,
		devices: devices,
		timeout: asicTimeout,
		logger:  noopLogger{},
		run:     process.Run,
	}
}

// SetLogger sets the logger for the sequence.
func (s *Sequence) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics enables per-step metrics.
func (s *Sequence) SetMetrics(m MetricsWriter) {
	s.metrics = m
}

// Run executes every step and never returns an error. Inspect the Report
// for failures.
func (s *Sequence) Run(ctx context.Context) Report {
	var report Report
	if !s.cfg.Enabled {
		s.logger.Info("boot init disabled")
		return report
	}

	s.logger.Info("boot init starting", "devices", len(s.devices))
	report.Steps = append(report.Steps,
		s.step(StepBlacklist, s.writeBlacklist),
		s.step(StepDeviceJSON, s.writeDeviceJSON),
		s.asicInit(ctx),
	)
	s.logger.Info("boot init complete", "failed", len(report.Failed()))
	return report
}

// errSkipped marks a step with nothing to do.
var errSkipped = errors.New("skipped")

func (s *Sequence) step(name string, fn func() error) StepResult {
	start := time.Now()
	err := fn()
	res := StepResult{Name: name, Duration: time.Since(start)}

	switch {
	case errors.Is(err, errSkipped):
		res.Skipped = true
		s.logger.Debug("boot step skipped", "step", name)
		return res
	case err != nil:
		res.Err = err
		s.logger.Error("boot step failed", "step", name, "error", err)
	default:
		s.logger.Info("boot step done", "step", name, "duration", res.Duration)
	}
	s.record(res)
	return res
}

// writeBlacklist writes one "blacklist <module>" line per configured module.
func (s *Sequence) writeBlacklist() error {
	if s.cfg.BlacklistPath == "" || len(s.cfg.BlacklistModules) == 0 {
		return errSkipped
	}

	var b strings.Builder
	b.WriteString(blacklistHeader)
	for _, mod := range s.cfg.BlacklistModules {
		mod = strings.TrimSpace(mod)
		if mod == "" {
			continue
		}
		fmt.Fprintf(&b, "blacklist %s\n", mod)
	}
	return writeFileAtomic(s.cfg.BlacklistPath, []byte(b.String()), 0o644)
}

// deviceDoc is the JSON form of one configured device.
type deviceDoc struct {
	BDF          string `json:"bdf"`
	Vendor       string `json:"vendor"`
	Product      string `json:"product"`
	ResourcePath string `json:"resource_path,omitempty"`
	BARStart     string `json:"bar_start"`
	BARLength    string `json:"bar_length"`
	SPI          spiDoc `json:"spi"`
}

// spiDoc carries the staged defaults under their control-plane entry names.
type spiDoc struct {
	Controllers    string `json:"virt_spi_controllers"`
	ControllerSize string `json:"virt_spi_controller_size"`
	BaseAddr       string `json:"spi_base_addr"`
	NumChipSelect  uint32 `json:"spi_num_cs"`
	ChipSelect     uint32 `json:"spi_cs"`
	Driver         string `json:"spi_driver,omitempty"`
	DevDriver      string `json:"spi_dev_driver,omitempty"`
}

// deviceFile is the top-level JSON document.
type deviceFile struct {
	Devices []deviceDoc `json:"devices"`
}

func (s *Sequence) writeDeviceJSON() error {
	if s.cfg.DeviceJSONPath == "" {
		return errSkipped
	}

	doc := deviceFile{Devices: make([]deviceDoc, 0, len(s.devices))}
	for _, d := range s.devices {
		doc.Devices = append(doc.Devices, deviceDoc{
			BDF:          d.BDF,
			Vendor:       fmt.Sprintf("0x%04x", d.Vendor),
			Product:      fmt.Sprintf("0x%04x", d.Product),
			ResourcePath: d.ResourcePath,
			BARStart:     fmt.Sprintf("0x%x", d.BARStart),
			BARLength:    fmt.Sprintf("0x%x", d.BARLength),
			SPI: spiDoc{
				Controllers:    fmt.Sprintf("0x%x", d.SPI.Controllers),
				ControllerSize: fmt.Sprintf("0x%x", d.SPI.ControllerSize),
				BaseAddr:       fmt.Sprintf("0x%x", d.SPI.BaseAddr),
				NumChipSelect:  d.SPI.NumChipSelect,
				ChipSelect:     d.SPI.ChipSelect,
				Driver:         d.SPI.Driver,
				DevDriver:      d.SPI.DevDriver,
			},
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}
	return writeFileAtomic(s.cfg.DeviceJSONPath, append(data, '\n'), 0o644)
}

func (s *Sequence) asicInit(ctx context.Context) StepResult {
	res := StepResult{Name: StepASICInit, ExitCode: -1}
	bin := s.cfg.ASICInit.Binary
	if bin == "" {
		res.Skipped = true
		s.logger.Debug("boot step skipped", "step", StepASICInit)
		return res
	}

	out, err := s.run(ctx, process.Config{
		Name:    StepASICInit,
		Binary:  bin,
		Args:    s.cfg.ASICInit.Args,
		Timeout: s.timeout,
	}, s.logger)
	res.Duration = out.Duration
	res.ExitCode = out.ExitCode
	res.Err = err

	if err != nil {
		s.logger.Error("asic init failed",
			"binary", bin,
			"exit_code", out.ExitCode,
			"timed_out", out.TimedOut,
			"output", strings.Join(out.Output, "\n"),
			"error", err,
		)
	} else {
		s.logger.Info("asic init done", "binary", bin, "exit_code", out.ExitCode, "duration", out.Duration)
	}
	s.record(res)
	return res
}

// record writes a metrics point for an executed step.
func (s *Sequence) record(res StepResult) {
	if s.metrics == nil {
		return
	}
	fields := map[string]any{
		"ok":          res.Err == nil,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Name == StepASICInit {
		fields["exit_code"] = res.ExitCode
	}
	s.metrics.WritePoint(MeasurementBoot, map[string]string{"step": res.Name}, fields)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // directories under /etc and ./data are world-readable
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("installing %s: %w", path, err)
	}
	return nil
}
