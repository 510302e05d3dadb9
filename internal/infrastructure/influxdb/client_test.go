package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/vspi-core/internal/infrastructure/config"
)

// fakeInflux answers /ping and collects line protocol from /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu    sync.Mutex
	lines []string
	got   chan struct{}
}

func newFakeInflux(t *testing.T, pingStatus int) *fakeInflux {
	t.Helper()
	f := &fakeInflux{got: make(chan struct{}, 16)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(pingStatus)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			f.got <- struct{}{}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		f.mu.Lock()
		if len(f.lines) >= n {
			out := append([]string(nil), f.lines...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		select {
		case <-f.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d lines", n)
		}
	}
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "vspid-test-token",
		Org:           "vspid",
		Bucket:        "metrics",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	if _, err := Connect(config.InfluxDBConfig{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_PingFails(t *testing.T) {
	f := newFakeInflux(t, http.StatusServiceUnavailable)
	if _, err := Connect(testConfig(f.URL)); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_WritesReachServer(t *testing.T) {
	f := newFakeInflux(t, http.StatusNoContent)

	client, err := Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect()")
	}

	client.WriteOccupancy("0000:03:00.0", 2, true, 0x1000)
	client.WriteEvent("0000:03:00.0", "controller.created", 3)
	client.WriteCtlWrite("api", "spi/new_spi_controller", -17)
	client.Flush()

	lines := f.waitLines(t, 3)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"spi_controllers,device=0000:03:00.0",
		"spi_events,device=0000:03:00.0,type=controller.created controller=3i",
		"ctl_writes,entry=spi/new_spi_controller,source=api errno=-17i,ok=false",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in:\n%s", want, joined)
		}
	}
}

func TestClient_ClosedDropsWrites(t *testing.T) {
	f := newFakeInflux(t, http.StatusNoContent)

	client, err := Connect(testConfig(f.URL))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	client.WriteEvent("dev", "device.attached", 0)
	client.Flush()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) != 0 {
		t.Errorf("closed client wrote %v", f.lines)
	}
}

func TestPointBuilders(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name  string
		point *write.Point
		want  string
	}{
		{
			"occupancy",
			OccupancyPoint("0000:03:00.0", 8, false, 0, ts),
			"spi_controllers,device=0000:03:00.0 bar_len=0u,mapped=false,occupied=8i 1700000000",
		},
		{
			"event",
			EventPoint("0000:03:00.0", "bar.mapped", 0, ts),
			"spi_events,device=0000:03:00.0,type=bar.mapped controller=0i 1700000000",
		},
		{
			"ctl write",
			CtlWritePoint("mqtt", "spi/spi_cs", 0, ts),
			"ctl_writes,entry=spi/spi_cs,source=mqtt errno=0i,ok=true 1700000000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.TrimSpace(write.PointToLineProtocol(tt.point, time.Second))
			if got != tt.want {
				t.Errorf("line = %q, want %q", got, tt.want)
			}
		})
	}
}
