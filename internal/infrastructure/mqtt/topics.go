package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the vspid hierarchy.
//
//	vspi/system/status                      online/offline (retained, LWT)
//	vspi/state/{bdf}                        device BAR + occupancy (retained)
//	vspi/state/{bdf}/spi/{n}                controller n of a device (retained)
//	vspi/events/{type}                      lifecycle events
//	vspi/ctl/{bdf}/{entry...}/set           control-plane write request
//	vspi/ctl/{bdf}/{entry...}/result        write outcome
const (
	TopicPrefix       = "vspi"
	TopicPrefixSystem = TopicPrefix + "/system"
	TopicPrefixState  = TopicPrefix + "/state"
	TopicPrefixCtl    = TopicPrefix + "/ctl"

	ctlSetSuffix    = "/set"
	ctlResultSuffix = "/result"
)

// Topics provides builders for vspid MQTT topics.
//
//	topic := mqtt.Topics{}.ControllerState("0000:03:00.0", 2)
//	// Returns: "vspi/state/0000:03:00.0/spi/2"
type Topics struct{}

// SystemStatus returns the daemon status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceState returns the retained state topic of an FPGA device.
func (Topics) DeviceState(bdf string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixState, bdf)
}

// ControllerState returns the retained state topic of controller index
// (1-based) on a device.
func (Topics) ControllerState(bdf string, index int) string {
	return fmt.Sprintf("%s/%s/spi/%d", TopicPrefixState, bdf, index)
}

// Event returns the topic for lifecycle events of one type.
//
// Example: vspi/events/controller.created
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/events/%s", TopicPrefix, eventType)
}

// CtlSet returns the write-request topic for an entry path relative to
// the device directory, e.g. ("0000:03:00.0", "spi/new_spi_controller").
func (Topics) CtlSet(bdf, entry string) string {
	return fmt.Sprintf("%s/%s/%s%s", TopicPrefixCtl, bdf, entry, ctlSetSuffix)
}

// AllCtlSets matches every write request.
//
// Pattern: vspi/ctl/#
func (Topics) AllCtlSets() string {
	return TopicPrefixCtl + "/#"
}

// AllState matches every retained state topic.
func (Topics) AllState() string {
	return TopicPrefixState + "/#"
}

// ParseCtlSet splits a write-request topic into the device and the entry
// path. ok is false for anything that is not a .../set topic with both
// parts present.
func (Topics) ParseCtlSet(topic string) (bdf, entry string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixCtl+"/")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, ctlSetSuffix)
	if !found {
		return "", "", false
	}
	bdf, entry, found = strings.Cut(rest, "/")
	if !found || bdf == "" || entry == "" {
		return "", "", false
	}
	return bdf, entry, true
}

// CtlResult maps a write-request topic to its reply topic.
func (Topics) CtlResult(setTopic string) string {
	return strings.TrimSuffix(setTopic, ctlSetSuffix) + ctlResultSuffix
}
