package spi

import (
	"fmt"
	"strings"

	"github.com/nerrad567/vspi-core/internal/ctlfs"
)

// Control-plane entry names under each device's "spi" directory.
const (
	namespaceDir = "spi"

	entryControllers    = "virt_spi_controllers"
	entryControllerSize = "virt_spi_controller_size"
	entryBaseAddr       = "spi_base_addr"
	entryNumCS          = "spi_num_cs"
	entryCS             = "spi_cs"
	entryDriver         = "spi_driver"
	entryDevDriver      = "spi_dev_driver"
	entryNewController  = "new_spi_controller"
	entryDelController  = "del_spi_controller"
	entryList           = "spi_controllers"
)

// stagedField binds a control-plane entry to one PendingConfig field.
type stagedField struct {
	name  string
	show  func(PendingConfig) string
	parse func(text string) (func(*PendingConfig), error)
}

func numberField(name string, hex bool, field func(*PendingConfig) *uint32) stagedField {
	return stagedField{
		name: name,
		show: func(c PendingConfig) string {
			if hex {
				return fmt.Sprintf("0x%x\n", *field(&c))
			}
			return fmt.Sprintf("%d\n", *field(&c))
		},
		parse: func(text string) (func(*PendingConfig), error) {
			v, err := parseUint32(text)
			if err != nil {
				return nil, err
			}
			return func(c *PendingConfig) { *field(c) = v }, nil
		},
	}
}

func nameField(name string, field func(*PendingConfig) *string) stagedField {
	return stagedField{
		name: name,
		show: func(c PendingConfig) string {
			return *field(&c) + "\n"
		},
		parse: func(text string) (func(*PendingConfig), error) {
			v, err := parseName(text)
			if err != nil {
				return nil, err
			}
			return func(c *PendingConfig) { *field(c) = v }, nil
		},
	}
}

var stagedFields = []stagedField{
	numberField(entryControllers, false, func(c *PendingConfig) *uint32 { return &c.Controllers }),
	numberField(entryControllerSize, true, func(c *PendingConfig) *uint32 { return &c.ControllerSize }),
	numberField(entryBaseAddr, true, func(c *PendingConfig) *uint32 { return &c.BaseAddr }),
	numberField(entryNumCS, false, func(c *PendingConfig) *uint32 { return &c.NumChipSelect }),
	numberField(entryCS, false, func(c *PendingConfig) *uint32 { return &c.ChipSelect }),
	nameField(entryDriver, func(c *PendingConfig) *string { return &c.Driver }),
	nameField(entryDevDriver, func(c *PendingConfig) *string { return &c.DevDriver }),
}

// StagedEntries returns the names of the staged configuration entries.
func StagedEntries() []string {
	names := make([]string, len(stagedFields))
	for i, f := range stagedFields {
		names[i] = f.name
	}
	return names
}

// attrs builds the entries of a device's "spi" directory. Every callback
// resolves the device through the registry, so a stale entry reports
// ErrNotFound once the device is detached.
func (p *Plugin) attrs(id DeviceID) []ctlfs.Attr {
	attrs := make([]ctlfs.Attr, 0, len(stagedFields)+3)

	for _, f := range stagedFields {
		f := f
		attrs = append(attrs, ctlfs.Attr{
			Name: f.name,
			Mode: ctlfs.ModeRW,
			Show: func() (string, error) {
				cfg, err := p.Staged(id)
				if err != nil {
					return "", err
				}
				return f.show(cfg), nil
			},
			Store: func(text string) error {
				return p.stage(id, f, text)
			},
		})
	}

	attrs = append(attrs,
		ctlfs.Attr{
			Name: entryNewController,
			Mode: ctlfs.ModeWrite,
			Store: func(text string) error {
				_, err := p.NewController(id, text)
				return err
			},
		},
		ctlfs.Attr{
			Name: entryDelController,
			Mode: ctlfs.ModeWrite,
			Store: func(text string) error {
				_, err := p.DelController(id, text)
				return err
			},
		},
		ctlfs.Attr{
			Name: entryList,
			Mode: ctlfs.ModeRead,
			Show: func() (string, error) {
				return p.listing(id)
			},
		},
	)
	return attrs
}

// stage writes one staged field.
func (p *Plugin) stage(id DeviceID, f stagedField, text string) error {
	rec, err := p.registry.Lookup(id)
	if err == nil {
		var apply func(*PendingConfig)
		if apply, err = f.parse(text); err == nil {
			rec.staged.update(apply)
		}
	}
	if err != nil {
		p.logger.Error("spi staging failed", "device", id, "entry", f.name, "error", err)
		return err
	}
	p.logger.Debug("spi value staged", "device", id, "entry", f.name, "value", strings.TrimSpace(text))
	return nil
}

// listing renders the occupied slots, one per line:
//
//	<index> <name> <start>-<end> cs=<cs> num_cs=<n> modalias=<modalias>
func (p *Plugin) listing(id DeviceID) (string, error) {
	ctrls, err := p.Controllers(id)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range ctrls {
		fmt.Fprintf(&b, "%d %s %s cs=%d num_cs=%d modalias=%s\n",
			c.Index+1, c.Name(), c.Range, c.ChipSelect, c.NumChipSelect, c.Modalias)
	}
	return b.String(), nil
}
