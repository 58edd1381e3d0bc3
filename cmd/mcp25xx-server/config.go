package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/bittiming"
	"github.com/kstaniek/go-mcp25xx/internal/buspirate"
	"github.com/kstaniek/go-mcp25xx/internal/spi"
)

type appConfig struct {
	chip      string
	transport string

	spiDev   string
	spiSpeed int
	spiMode  int

	serialDev string
	baud      int
	bpSpeed   string

	clock   string
	nominal string
	data    string

	gpioChip     string
	irqGPIO      int
	pollEvery    time.Duration
	txFIFO       int
	layoutFile   string
	ecc          bool
	isoCRC       bool
	spiCRC       bool
	txRetryLimit int

	listenAddr      string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	classicOnly     bool
	hubBuffer       int
	hubPolicy       string
	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	errSampleEvery  time.Duration
	mdnsEnable      bool
	mdnsName        string
	vcanIf          string
	vcanFD          bool
}

func (c *appConfig) fd() bool { return c.chip == spi.MCP251XFD.Name }

// clockOrDefault picks the usual oscillator of the chip family when none
// is configured.
func (c *appConfig) clockOrDefault() string {
	switch {
	case c.clock != "":
		return c.clock
	case c.fd():
		return "40MHz"
	default:
		return "16MHz"
	}
}

// errInfoOnly reports that a flag such as -version was served and the
// process should exit cleanly.
var errInfoOnly = errors.New("info only")

// parseFlags returns the validated configuration.
func parseFlags() (*appConfig, error) {
	cfg := &appConfig{}
	flag.StringVar(&cfg.chip, "chip", "mcp251xfd", "Controller: mcp251xfd|mcp2515|mcp25625|mcp2510")
	flag.StringVar(&cfg.transport, "transport", "spidev", "SPI transport: spidev|buspirate")
	flag.StringVar(&cfg.spiDev, "spi-dev", "/dev/spidev0.0", "spidev device path")
	flag.IntVar(&cfg.spiSpeed, "spi-speed", 10_000_000, "SPI clock in Hz (spidev)")
	flag.IntVar(&cfg.spiMode, "spi-mode", 0, "SPI mode 0..3 (spidev)")
	flag.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Bus Pirate serial device")
	flag.IntVar(&cfg.baud, "baud", 115200, "Bus Pirate serial baud rate")
	flag.StringVar(&cfg.bpSpeed, "bp-speed", "1M", "Bus Pirate SPI speed: 30k|125k|250k|1M|2.6M|4M|8M")
	flag.StringVar(&cfg.clock, "clock", "", "Oscillator frequency (default 40MHz for FD chips, 16MHz otherwise)")
	flag.StringVar(&cfg.nominal, "bitrate", "500k", "Nominal bit rate")
	flag.StringVar(&cfg.data, "data-bitrate", "2M", "Data phase bit rate (FD chips)")
	flag.StringVar(&cfg.gpioChip, "gpio-chip", "gpiochip0", "GPIO controller carrying the interrupt line")
	flag.IntVar(&cfg.irqGPIO, "irq-gpio", -1, "Interrupt line offset on -gpio-chip (-1 polls the chip)")
	flag.DurationVar(&cfg.pollEvery, "poll-interval", 2*time.Millisecond, "Receive poll interval without an interrupt line")
	flag.IntVar(&cfg.txFIFO, "tx-fifo", 0, "Transmit FIFO index (0 uses the layout's lowest transmit FIFO)")
	flag.StringVar(&cfg.layoutFile, "layout", "", "FIFO/filter layout YAML file (empty uses the built-in layout)")
	flag.BoolVar(&cfg.ecc, "ecc", true, "Enable message RAM ECC (FD chips)")
	flag.BoolVar(&cfg.isoCRC, "iso-crc", true, "Use ISO CRC for CAN FD frames")
	flag.BoolVar(&cfg.spiCRC, "spi-crc", false, "Use CRC-protected SPI instructions (FD chips)")
	flag.IntVar(&cfg.txRetryLimit, "tx-retry-limit", 50, "Retries for a frame while the transmit FIFO is full (0 drops at once)")
	flag.StringVar(&cfg.listenAddr, "listen", ":20000", "TCP listen address")
	flag.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	flag.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	flag.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	flag.BoolVar(&cfg.classicOnly, "classic-only", false, "Do not forward CAN FD frames to TCP clients")
	flag.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client hub buffer (frames)")
	flag.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	flag.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flag.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	flag.DurationVar(&cfg.errSampleEvery, "error-sample-interval", 5*time.Second, "If >0, periodically sample the chip error counters")
	flag.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	flag.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default mcp25xx-<hostname>)")
	flag.StringVar(&cfg.vcanIf, "vcan-if", "", "SocketCAN interface to mirror traffic to and from (empty disables)")
	flag.BoolVar(&cfg.vcanFD, "vcan-fd", true, "Enable CAN FD frames on the mirror interface")
	showVersion := flag.Bool("version", false, "Print version and exit")
	listRates := flag.Bool("list-bitrates", false, "Print the supported clock and bit rate combinations and exit")
	flag.Parse()

	switch {
	case *showVersion:
		fmt.Printf("mcp25xx-server %s (commit %s, built %s)\n", version, commit, date)
		return nil, errInfoOnly
	case *listRates:
		printBitrates(os.Stdout)
		return nil, errInfoOnly
	}

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

// printBitrates writes the FD table followed by the classic one.
func printBitrates(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHIP\tCLOCK\tNOMINAL\tDATA")
	for _, c := range bittiming.Supported() {
		fmt.Fprintf(tw, "fd\t%s\t%s\t%s\n", c.Clock, c.Nominal, c.Data)
	}
	for _, c := range bittiming.SupportedClassic() {
		fmt.Fprintf(tw, "classic\t%s\t%s\t-\n", c.Clock, c.Nominal)
	}
	_ = tw.Flush()
}

// validate checks values and ranges. It opens nothing.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	v, ok := spi.VariantByName(c.chip)
	if !ok {
		return fmt.Errorf("invalid chip: %s", c.chip)
	}
	switch c.transport {
	case "spidev":
		if c.spiSpeed <= 0 {
			return fmt.Errorf("spi-speed must be > 0 (got %d)", c.spiSpeed)
		}
		if c.spiMode < 0 || c.spiMode > 3 {
			return fmt.Errorf("spi-mode must be 0..3 (got %d)", c.spiMode)
		}
	case "buspirate":
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
		if _, err := buspirate.ParseSpeed(c.bpSpeed); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid transport: %s", c.transport)
	}
	clock, err := bittiming.ParseClock(c.clockOrDefault())
	if err != nil {
		return err
	}
	nominal, err := bittiming.ParseRate(c.nominal)
	if err != nil {
		return err
	}
	if v.FD {
		data, err := bittiming.ParseRate(c.data)
		if err != nil {
			return err
		}
		if _, err := bittiming.Resolve(clock, nominal, data); err != nil {
			return err
		}
		if c.txFIFO < 0 || c.txFIFO > 31 {
			return fmt.Errorf("tx-fifo must be 0..31 (got %d)", c.txFIFO)
		}
	} else if _, err := bittiming.ResolveClassic(clock, nominal); err != nil {
		return err
	}
	if c.irqGPIO < -1 {
		return fmt.Errorf("irq-gpio must be >= -1 (got %d)", c.irqGPIO)
	}
	if c.irqGPIO < 0 && c.pollEvery <= 0 {
		return fmt.Errorf("poll-interval must be > 0 without an interrupt line")
	}
	if c.txRetryLimit < 0 {
		return fmt.Errorf("tx-retry-limit must be >= 0")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

const envPrefix = "MCP25XX_"

// envVar binds one MCP25XX_* variable to the flag it overrides.
type envVar struct {
	flag string
	env  string
	set  func(string) error
}

func strEnv(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func intEnv(p *int, min int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n < min {
			return fmt.Errorf("%d below %d", n, min)
		}
		*p = n
		return nil
	}
}

func durEnv(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		if d < 0 {
			return fmt.Errorf("negative duration %s", d)
		}
		*p = d
		return nil
	}
}

// boolEnv ignores values it does not recognise.
func boolEnv(p *bool) func(string) error {
	return func(v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*p = true
		case "0", "false", "no", "off":
			*p = false
		}
		return nil
	}
}

func (c *appConfig) envVars() []envVar {
	return []envVar{
		{"chip", "CHIP", strEnv(&c.chip)},
		{"transport", "TRANSPORT", strEnv(&c.transport)},
		{"spi-dev", "SPI_DEV", strEnv(&c.spiDev)},
		{"spi-speed", "SPI_SPEED", intEnv(&c.spiSpeed, 1)},
		{"spi-mode", "SPI_MODE", intEnv(&c.spiMode, 0)},
		{"serial", "SERIAL", strEnv(&c.serialDev)},
		{"baud", "BAUD", intEnv(&c.baud, 1)},
		{"bp-speed", "BP_SPEED", strEnv(&c.bpSpeed)},
		{"clock", "CLOCK", strEnv(&c.clock)},
		{"bitrate", "BITRATE", strEnv(&c.nominal)},
		{"data-bitrate", "DATA_BITRATE", strEnv(&c.data)},
		{"gpio-chip", "GPIO_CHIP", strEnv(&c.gpioChip)},
		{"irq-gpio", "IRQ_GPIO", intEnv(&c.irqGPIO, -1)},
		{"poll-interval", "POLL_INTERVAL", durEnv(&c.pollEvery)},
		{"tx-fifo", "TX_FIFO", intEnv(&c.txFIFO, 0)},
		{"layout", "LAYOUT", strEnv(&c.layoutFile)},
		{"ecc", "ECC", boolEnv(&c.ecc)},
		{"iso-crc", "ISO_CRC", boolEnv(&c.isoCRC)},
		{"spi-crc", "SPI_CRC", boolEnv(&c.spiCRC)},
		{"tx-retry-limit", "TX_RETRY_LIMIT", intEnv(&c.txRetryLimit, 0)},
		{"listen", "LISTEN", strEnv(&c.listenAddr)},
		{"max-clients", "MAX_CLIENTS", intEnv(&c.maxClients, 0)},
		{"handshake-timeout", "HANDSHAKE_TIMEOUT", durEnv(&c.handshakeTO)},
		{"client-read-timeout", "CLIENT_READ_TIMEOUT", durEnv(&c.clientReadTO)},
		{"classic-only", "CLASSIC_ONLY", boolEnv(&c.classicOnly)},
		{"hub-buffer", "HUB_BUFFER", intEnv(&c.hubBuffer, 1)},
		{"hub-policy", "HUB_POLICY", strEnv(&c.hubPolicy)},
		{"metrics-addr", "METRICS", strEnv(&c.metricsAddr)},
		{"log-format", "LOG_FORMAT", strEnv(&c.logFormat)},
		{"log-level", "LOG_LEVEL", strEnv(&c.logLevel)},
		{"log-metrics-interval", "LOG_METRICS_INTERVAL", durEnv(&c.logMetricsEvery)},
		{"error-sample-interval", "ERROR_SAMPLE_INTERVAL", durEnv(&c.errSampleEvery)},
		{"mdns-enable", "MDNS_ENABLE", boolEnv(&c.mdnsEnable)},
		{"mdns-name", "MDNS_NAME", strEnv(&c.mdnsName)},
		{"vcan-if", "VCAN_IF", strEnv(&c.vcanIf)},
		{"vcan-fd", "VCAN_FD", boolEnv(&c.vcanFD)},
	}
}

// applyEnvOverrides maps MCP25XX_* environment variables to config fields
// unless the corresponding flag was set explicitly. Empty values are
// ignored, except MCP25XX_METRICS which may clear the metrics address.
// The first parse error is returned after all variables are applied.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	for _, ev := range c.envVars() {
		if _, ok := set[ev.flag]; ok {
			continue
		}
		name := envPrefix + ev.env
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" && ev.flag != "metrics-addr" {
			continue
		}
		if err := ev.set(v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return firstErr
}
