// vspid - virtual SPI controller daemon for multi-FPGA PCI endpoints.
//
// vspid attaches the SPI protocol to every configured FPGA, exposes the
// per-device control-plane namespace over HTTP and MQTT, and records
// controller lifecycle changes to the audit trail, MQTT and InfluxDB.
//
// Usage:
//
//	vspid [-c config.yaml] [serve]
//	vspid [-c config.yaml] token -s SUBJECT -r ROLE [--ttl 24h]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/nerrad567/vspi-core/internal/api"
	"github.com/nerrad567/vspi-core/internal/audit"
	"github.com/nerrad567/vspi-core/internal/auth"
	"github.com/nerrad567/vspi-core/internal/bootinit"
	"github.com/nerrad567/vspi-core/internal/ctlbridge"
	"github.com/nerrad567/vspi-core/internal/ctlfs"
	"github.com/nerrad567/vspi-core/internal/infrastructure/config"
	"github.com/nerrad567/vspi-core/internal/infrastructure/database"
	"github.com/nerrad567/vspi-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/vspi-core/internal/infrastructure/logging"
	"github.com/nerrad567/vspi-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vspi-core/internal/multifpgapci"
	"github.com/nerrad567/vspi-core/internal/notify"
	"github.com/nerrad567/vspi-core/internal/platform"
	"github.com/nerrad567/vspi-core/internal/spi"
	"github.com/nerrad567/vspi-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// shutdownTimeout bounds device teardown on exit.
const shutdownTimeout = 10 * time.Second

// options are the flags shared by every command.
type options struct {
	Config string `short:"c" long:"config" env:"VSPID_CONFIG" default:"configs/config.yaml" description:"Path to the YAML configuration file"`
}

// cmdServe runs the daemon until SIGINT or SIGTERM.
type cmdServe struct {
	opts *options
}

func (c *cmdServe) Execute(_ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return run(ctx, c.opts.Config)
}

// cmdToken mints a control-plane token signed with security.jwt.secret.
type cmdToken struct {
	opts *options
	out  io.Writer

	Subject string        `short:"s" long:"subject" required:"yes" description:"Identity recorded in audit entries"`
	Role    string        `short:"r" long:"role" default:"viewer" choice:"viewer" choice:"operator" choice:"admin" description:"Role granted by the token"`
	TTL     time.Duration `long:"ttl" description:"Token lifetime (default security.jwt.token_ttl)"`
}

func (c *cmdToken) Execute(_ []string) error {
	cfg, err := config.Load(c.opts.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = cfg.GetTokenTTL()
	}
	token, err := auth.GenerateToken(c.Subject, auth.Role(c.Role), cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(c.out, token)
	return err
}

// newParser builds the command line parser. Without a command, serve runs.
func newParser(out io.Writer) (*flags.Parser, *cmdServe) {
	opts := &options{}
	p := flags.NewParser(opts, flags.Default)
	p.SubcommandsOptional = true

	serve := &cmdServe{opts: opts}
	//nolint:errcheck // Static command definitions
	p.AddCommand("serve", "Run the daemon", "Attach the configured FPGAs and serve the control plane until signalled.", serve)
	//nolint:errcheck // Static command definitions
	p.AddCommand("token", "Mint a control-plane token", "Print a signed token for the REST API and WebSocket ticket endpoint.", &cmdToken{opts: opts, out: out})
	return p, serve
}

func main() {
	parser, serve := newParser(os.Stdout)
	_, err := parser.Parse()
	if err == nil && parser.Active == nil {
		err = serve.Execute(nil)
	}
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				return
			}
			// go-flags already printed the message.
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Startup wiring is linear
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting vspid",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	devices, defaults, err := fpgaDevices(cfg.FPGA.Devices)
	if err != nil {
		return err
	}

	// Database and audit trail
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, audit.DefaultQueueSize)
	recorder.SetLogger(log.Component("audit"))
	// Detach events during shutdown still have to reach the trail.
	go recorder.Run(context.WithoutCancel(ctx))
	defer recorder.Stop()

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Boot-time initialization runs before any device is brought up.
	boot := bootinit.New(cfg.Boot, cfg.FPGA.Devices, cfg.GetASICInitTimeout())
	boot.SetLogger(log.Component("bootinit"))
	if influxClient != nil {
		boot.SetMetrics(influxClient)
	}
	if failed := boot.Run(ctx).Failed(); len(failed) > 0 {
		for _, step := range failed {
			log.Error("boot step failed", "step", step.Name, "error", step.Err)
		}
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Framework, SPI plugin and event fan-out
	framework := multifpgapci.New(ctlfs.NewRoot(cfg.FPGA.Root))
	framework.SetLogger(log.Component("multifpgapci"))

	plugin := spi.NewPlugin(platform.NewBus())
	plugin.SetLogger(log.Component("spi"))
	plugin.SetDefaults(defaults)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	dispatcher := notify.NewDispatcher(notify.NewAuditSink(recorder), notify.NewBroadcastSink(hub))
	dispatcher.SetLogger(log.Component("notify"))
	if mqttClient != nil {
		dispatcher.AddSink(notify.NewMQTTSink(mqttClient))
	}
	if influxClient != nil {
		dispatcher.AddSink(notify.NewMetricsSink(influxClient))
	}
	plugin.AddObserver(dispatcher)

	if err := framework.RegisterProtocol(plugin); err != nil {
		return fmt.Errorf("registering spi protocol: %w", err)
	}
	defer shutdownFramework(framework, plugin, log)

	for _, dev := range devices {
		if err := framework.AddDevice(dev); err != nil {
			log.Error("device not added", "device", dev.ID, "error", err)
		}
	}
	log.Info("devices attached", "configured", len(devices), "attached", len(plugin.Devices()))

	// Control-plane writes from MQTT and HTTP
	writer := ctlbridge.NewWriter(framework.Root())
	writer.SetLogger(log.Component("ctl"))
	writer.SetAudit(recorder)
	if influxClient != nil {
		writer.SetMetrics(influxClient)
	}

	if mqttClient != nil {
		bridge := ctlbridge.NewBridge(mqttClient, writer, byte(cfg.MQTT.QoS))
		bridge.SetLogger(log.Component("ctlbridge"))
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT control bridge: %w", err)
		}
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("stopping MQTT control bridge", "error", stopErr)
			}
		}()
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.Component("api"),
		Framework:   framework,
		Plugin:      plugin,
		Writer:      writer,
		AuditRepo:   auditRepo,
		DB:          db,
		MQTT:        mqttClient,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server, MQTT control bridge
	// 2. Framework (devices detached, events still delivered)
	// 3. MQTT, InfluxDB
	// 4. Audit recorder flush, database

	log.Info("vspid stopped")
	return nil
}

// fpgaDevices converts the configured devices into framework devices and
// the per-device staged defaults.
func fpgaDevices(cfgs []config.FPGADeviceConfig) ([]*multifpgapci.Device, map[spi.DeviceID]spi.PendingConfig, error) {
	devices := make([]*multifpgapci.Device, 0, len(cfgs))
	defaults := make(map[spi.DeviceID]spi.PendingConfig, len(cfgs))
	for _, c := range cfgs {
		id, err := multifpgapci.ParseDeviceID(c.BDF)
		if err != nil {
			return nil, nil, fmt.Errorf("fpga device %q: %w", c.BDF, err)
		}
		devices = append(devices, &multifpgapci.Device{
			ID:           id,
			Vendor:       c.Vendor,
			Product:      c.Product,
			ResourcePath: c.ResourcePath,
			BARStart:     c.BARStart,
			BARLen:       c.BARLength,
		})
		defaults[id] = spi.PendingConfig{
			Controllers:    c.SPI.Controllers,
			ControllerSize: c.SPI.ControllerSize,
			BaseAddr:       c.SPI.BaseAddr,
			NumChipSelect:  c.SPI.NumChipSelect,
			ChipSelect:     c.SPI.ChipSelect,
			Driver:         c.SPI.Driver,
			DevDriver:      c.SPI.DevDriver,
		}
	}
	return devices, defaults, nil
}

// shutdownFramework detaches every device and then removes the protocol.
func shutdownFramework(framework *multifpgapci.Framework, plugin *spi.Plugin, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("detaching FPGA devices")
	if err := framework.Shutdown(ctx); err != nil {
		log.Error("framework shutdown", "error", err)
	}
	if err := framework.UnregisterProtocol(spi.ProtocolName); err != nil {
		log.Warn("unregistering spi protocol", "error", err)
	}
	plugin.Close()
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - server: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
