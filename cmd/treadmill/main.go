// Command treadmill drives a retrofitted treadmill from the GPIO header and
// publishes its state to MQTT, HTTP and a line console.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/treadmill/internal/config"
	"github.com/sweeney/treadmill/internal/console"
	"github.com/sweeney/treadmill/internal/controller"
	"github.com/sweeney/treadmill/internal/fake"
	"github.com/sweeney/treadmill/internal/gpio"
	"github.com/sweeney/treadmill/internal/mqtt"
	"github.com/sweeney/treadmill/internal/status"
	"github.com/sweeney/treadmill/internal/treadmill"
	"github.com/sweeney/treadmill/internal/watcher"
	"github.com/sweeney/treadmill/internal/web"
)

type options struct {
	configPath string
	fake       bool
	broker     string
	clientID   string
	httpAddr   string
	wsBroker   string
	console    bool
	serialPort string
	baud       int
	heartbeat  time.Duration
	interrupts bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "treadmill",
		Short:         "Treadmill motor and incline controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (defaults are used when empty)")
	root.AddCommand(newRunCmd(), newPrintStateCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath, _ = cmd.Flags().GetString("config")
			return run(opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.fake, "fake", false, "simulate the treadmill without hardware")
	f.StringVar(&opts.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address (empty to disable)")
	f.StringVar(&opts.clientID, "client-id", "treadmill", "MQTT client ID")
	f.StringVar(&opts.httpAddr, "http", ":80", "HTTP status and control address (empty to disable)")
	f.StringVar(&opts.wsBroker, "ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	f.BoolVar(&opts.console, "console", false, "accept console commands on stdin")
	f.StringVar(&opts.serialPort, "serial", "", "serial port for the console, e.g. /dev/ttyUSB0")
	f.IntVar(&opts.baud, "baud", 115200, "serial console baud rate")
	f.DurationVar(&opts.heartbeat, "heartbeat", 15*time.Minute, "heartbeat interval (0 to disable)")
	f.BoolVar(&opts.interrupts, "interrupts", false, "use edge interrupts instead of polling the inputs")
	return cmd
}

func newPrintStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-state",
		Short: "Print the current input levels and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			reader, err := gpio.NewRealReader(cfg.Pins)
			if err != nil {
				return fmt.Errorf("init gpio: %w", err)
			}
			defer reader.Close()
			lv, err := reader.Read()
			if err != nil {
				return fmt.Errorf("read gpio: %w", err)
			}
			printState(cmd.OutOrStdout(), lv)
			return nil
		},
	}
}

func printState(w io.Writer, lv gpio.Levels) {
	key := "inserted"
	if lv.Safety {
		key = "removed"
	}
	fmt.Fprintf(w, "speed: %s, incline: %s, safety: %s (key %s)\n",
		levelString(lv.Speed), levelString(lv.Incline), levelString(lv.Safety), key)
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.interrupts {
		cfg.Interrupts = true
	}

	d := &daemon{
		bus:     treadmill.NewBus(16, 64),
		hub:     treadmill.NewHub(),
		now:     time.Now,
		refresh: time.Second,
	}

	mode := "hardware"
	if opts.fake {
		mode = "fake"
		d.tm = fake.New(fake.DefaultSettle)
	} else {
		if err := d.openHardware(cfg); err != nil {
			return err
		}
	}

	ws := resolveWSBroker(opts.wsBroker, opts.broker)
	if opts.broker == "" {
		ws = ""
	}
	d.tracker = status.NewTracker(time.Now(), status.Config{
		Mode:        mode,
		PollMs:      cfg.Watcher.Poll.Milliseconds(),
		Interrupts:  cfg.Interrupts,
		HeartbeatMs: opts.heartbeat.Milliseconds(),
		Broker:      opts.broker,
		HTTPPort:    opts.httpAddr,
		WSBroker:    ws,
		MaxSpeed:    cfg.Controller.MaxSpeed,
	})
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}

	if opts.broker != "" {
		publisher := mqtt.NewRealPublisher(opts.broker, opts.clientID)
		defer publisher.Close()
		d.publisher = publisher
		d.mqttStatus = publisher
	}

	if opts.httpAddr != "" {
		srv := web.New(opts.httpAddr, d.tracker, d.bus)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", opts.httpAddr)
	}

	switch {
	case opts.serialPort != "":
		port, err := console.OpenSerial(opts.serialPort, opts.baud)
		if err != nil {
			return fmt.Errorf("serial console: %w", err)
		}
		defer port.Close()
		d.consoles = append(d.consoles, console.New(port, d.bus))
		log.Printf("console on %s at %d baud", opts.serialPort, opts.baud)
	case opts.console:
		d.consoles = append(d.consoles, console.New(stdio{}, d.bus))
		log.Printf("console on stdin")
	}

	log.Printf("started: mode=%s interrupts=%v poll=%v broker=%s heartbeat=%v",
		mode, cfg.Interrupts, cfg.Watcher.Poll, opts.broker, opts.heartbeat)

	var heartbeat <-chan time.Time
	if opts.heartbeat > 0 {
		ticker := time.NewTicker(opts.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return d.runLoop(context.Background(), heartbeat, sigCh)
}

// openHardware acquires the actuators and input lines and builds the
// controller. Everything acquired is released again on failure.
func (d *daemon) openHardware(cfg config.Config) (err error) {
	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i].Close()
			}
		}
	}()

	pwm, err := gpio.NewSysfsPWM(cfg.Pins.PWMChip, cfg.Pins.PWMChannel)
	if err != nil {
		return &treadmill.SetupError{Resource: fmt.Sprintf("pwm%d", cfg.Pins.PWMChannel), Err: err}
	}
	closers = append(closers, pwm)
	up, err := gpio.NewRealOutput(cfg.Pins.Chip, cfg.Pins.InclineUp)
	if err != nil {
		return &treadmill.SetupError{Resource: fmt.Sprintf("incline up pin %d", cfg.Pins.InclineUp), Err: err}
	}
	closers = append(closers, up)
	down, err := gpio.NewRealOutput(cfg.Pins.Chip, cfg.Pins.InclineDown)
	if err != nil {
		return &treadmill.SetupError{Resource: fmt.Sprintf("incline down pin %d", cfg.Pins.InclineDown), Err: err}
	}
	closers = append(closers, down)

	inputs := make(chan treadmill.InputEvent, 64)
	w := watcher.New(cfg.Watcher)
	d.counts = w.Counts

	if cfg.Interrupts {
		edges, err := gpio.NewRealEdges(cfg.Pins, 256)
		if err != nil {
			return &treadmill.SetupError{Resource: "input edges", Err: err}
		}
		closers = append(closers, edges)
		initial, err := edges.Initial()
		if err != nil {
			return &treadmill.SetupError{Resource: "input edges", Err: err}
		}
		d.inputs = func(ctx context.Context) error {
			defer edges.Close()
			return w.Edges(ctx, initial, edges, inputs)
		}
	} else {
		reader, err := gpio.NewRealReader(cfg.Pins)
		if err != nil {
			return &treadmill.SetupError{Resource: "input pins", Err: err}
		}
		closers = append(closers, reader)
		d.inputs = func(ctx context.Context) error {
			defer reader.Close()
			return w.Run(ctx, reader, inputs)
		}
	}

	ctrl, err := controller.New(cfg.Controller, controller.Hardware{
		PWM:         pwm,
		InclineUp:   up,
		InclineDown: down,
	}, inputs)
	if err != nil {
		return err
	}
	d.tm = ctrl
	return nil
}

// stdio joins stdin and stdout for the console.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
