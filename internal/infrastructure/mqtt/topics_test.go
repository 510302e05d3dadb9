package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SystemStatus", topics.SystemStatus(), "vspi/system/status"},
		{"DeviceState", topics.DeviceState("0000:03:00.0"), "vspi/state/0000:03:00.0"},
		{"ControllerState", topics.ControllerState("0000:03:00.0", 2), "vspi/state/0000:03:00.0/spi/2"},
		{"Event", topics.Event("controller.created"), "vspi/events/controller.created"},
		{"CtlSet", topics.CtlSet("0000:03:00.0", "spi/new_spi_controller"), "vspi/ctl/0000:03:00.0/spi/new_spi_controller/set"},
		{"AllCtlSets", topics.AllCtlSets(), "vspi/ctl/#"},
		{"AllState", topics.AllState(), "vspi/state/#"},
		{"CtlResult", topics.CtlResult("vspi/ctl/0000:03:00.0/spi/spi_cs/set"), "vspi/ctl/0000:03:00.0/spi/spi_cs/result"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseCtlSet(t *testing.T) {
	tests := []struct {
		topic     string
		wantBDF   string
		wantEntry string
		wantOK    bool
	}{
		{"vspi/ctl/0000:03:00.0/spi/new_spi_controller/set", "0000:03:00.0", "spi/new_spi_controller", true},
		{"vspi/ctl/0000:03:00.0/spi/set", "0000:03:00.0", "spi", true},
		{"vspi/ctl/0000:03:00.0/spi/spi_cs/result", "", "", false},
		{"vspi/ctl/0000:03:00.0/set", "", "", false},
		{"vspi/ctl//spi/set", "", "", false},
		{"vspi/state/0000:03:00.0/spi/1", "", "", false},
		{"other/ctl/x/y/set", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			bdf, entry, ok := Topics{}.ParseCtlSet(tt.topic)
			if ok != tt.wantOK || bdf != tt.wantBDF || entry != tt.wantEntry {
				t.Errorf("ParseCtlSet() = (%q, %q, %v), want (%q, %q, %v)",
					bdf, entry, ok, tt.wantBDF, tt.wantEntry, tt.wantOK)
			}
		})
	}
}

func TestParseCtlSet_RoundTrip(t *testing.T) {
	topic := Topics{}.CtlSet("0000:81:00.1", "spi/del_spi_controller")
	bdf, entry, ok := Topics{}.ParseCtlSet(topic)
	if !ok || bdf != "0000:81:00.1" || entry != "spi/del_spi_controller" {
		t.Errorf("round trip = (%q, %q, %v)", bdf, entry, ok)
	}
}
