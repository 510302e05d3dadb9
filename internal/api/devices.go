package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vspi-core/internal/multifpgapci"
	"github.com/nerrad567/vspi-core/internal/spi"
)

// DeviceView is the API representation of one FPGA endpoint.
type DeviceView struct {
	multifpgapci.Device
	SPI *SPIView `json:"spi,omitempty"`
}

// SPIView is the SPI plugin state of a device. It is absent when the
// plugin has no record for the device.
type SPIView struct {
	BAR         spi.BARState         `json:"bar"`
	Staged      spi.PendingConfig    `json:"staged"`
	Controllers []spi.ControllerInfo `json:"controllers"`
}

// handleListDevices returns every attached FPGA endpoint with its SPI state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	views := s.deviceViews(nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetDevice returns a single endpoint by PCI address.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := multifpgapci.ParseDeviceID(chi.URLParam(r, "bdf"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	dev, ok := s.framework.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.deviceView(dev))
}

// deviceViews returns the views of the given attached devices, or of every
// attached device when ids is empty. Unknown ids are skipped.
func (s *Server) deviceViews(ids []spi.DeviceID) []DeviceView {
	views := make([]DeviceView, 0, len(ids))
	if len(ids) == 0 {
		for _, dev := range s.framework.Devices() {
			views = append(views, s.deviceView(dev))
		}
		return views
	}
	for _, id := range ids {
		if dev, ok := s.framework.Device(id); ok {
			views = append(views, s.deviceView(dev))
		}
	}
	return views
}

// deviceView combines framework and plugin state. A device the plugin does
// not know is returned without the SPI section.
func (s *Server) deviceView(dev multifpgapci.Device) DeviceView {
	view := DeviceView{Device: dev}

	bar, err := s.plugin.BAR(dev.ID)
	if err != nil {
		if !errors.Is(err, spi.ErrNotFound) {
			s.logger.Warn("reading spi bar state", "device", dev.ID, "error", err)
		}
		return view
	}
	staged, err := s.plugin.Staged(dev.ID)
	if err != nil {
		return view
	}
	controllers, err := s.plugin.Controllers(dev.ID)
	if err != nil {
		return view
	}

	infos := make([]spi.ControllerInfo, 0, len(controllers))
	for _, c := range controllers {
		infos = append(infos, c.Info())
	}
	view.SPI = &SPIView{BAR: bar, Staged: staged, Controllers: infos}
	return view
}
