package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/trip-computer/internal/gpio"
	"github.com/sweeney/trip-computer/internal/gps"
	"github.com/sweeney/trip-computer/internal/thermal"
)

// Config holds the deployment settings. It can be read from a YAML file;
// flags given on the command line override the file.
type Config struct {
	DB        string          `yaml:"db"`
	GPIOChip  string          `yaml:"gpio_chip"`
	PinWheel  int             `yaml:"pin_wheel"`
	PinInc    int             `yaml:"pin_inc"`
	PinDec    int             `yaml:"pin_dec"`
	PinMenu   int             `yaml:"pin_menu"`
	GPSPort   string          `yaml:"gps_port"`
	GPS       gps.PortOptions `yaml:"gps"`
	Broker    string          `yaml:"broker"`
	HTTP      string          `yaml:"http"`
	Heartbeat time.Duration   `yaml:"heartbeat"`
	Thermal   string          `yaml:"thermal"`
}

func defaultConfig() Config {
	return Config{
		DB:        "/var/lib/trip-computer/state.db",
		GPIOChip:  gpio.DefaultChip,
		PinWheel:  gpio.DefaultPinWheel,
		PinInc:    gpio.DefaultPinIncrement,
		PinDec:    gpio.DefaultPinDecrement,
		PinMenu:   gpio.DefaultPinMenu,
		GPSPort:   "/dev/serial0",
		GPS:       gps.PortOptions{BaudRate: 9600},
		HTTP:      ":80",
		Heartbeat: 5 * time.Minute,
		Thermal:   thermal.DefaultZone,
	}
}

// options are the one-shot actions that are not part of Config.
type options struct {
	configPath string
	printState bool
	erase      bool
}

// parseArgs builds the configuration from defaults, the optional YAML file
// and the command line, in increasing order of precedence.
func parseArgs(args []string) (Config, options, error) {
	cfg := defaultConfig()
	var opts options

	fs := flag.NewFlagSet("trip-computer", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "YAML config file")
	fs.BoolVar(&opts.printState, "print-state", false, "Print the persisted state and exit")
	fs.BoolVar(&opts.erase, "erase", false, "Erase the persisted state and exit")
	fs.StringVar(&cfg.DB, "db", cfg.DB, "SQLite state database")
	fs.StringVar(&cfg.GPIOChip, "gpio-chip", cfg.GPIOChip, "GPIO character device")
	fs.IntVar(&cfg.PinWheel, "pin-wheel", cfg.PinWheel, "BCM pin number for the wheel sensor")
	fs.IntVar(&cfg.PinInc, "pin-inc", cfg.PinInc, "BCM pin number for the + button")
	fs.IntVar(&cfg.PinDec, "pin-dec", cfg.PinDec, "BCM pin number for the - button")
	fs.IntVar(&cfg.PinMenu, "pin-menu", cfg.PinMenu, "BCM pin number for the menu button")
	fs.StringVar(&cfg.GPSPort, "gps-port", cfg.GPSPort, "GPS receiver serial port (empty to disable)")
	fs.IntVar(&cfg.GPS.BaudRate, "gps-baud", cfg.GPS.BaudRate, "GPS receiver baud rate")
	fs.StringVar(&cfg.Broker, "broker", cfg.Broker, "MQTT broker address (empty to disable)")
	fs.StringVar(&cfg.HTTP, "http", cfg.HTTP, "HTTP status address (empty to disable)")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&cfg.Thermal, "thermal", cfg.Thermal, "Thermal zone file (empty to disable)")

	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	if opts.configPath == "" {
		return cfg, opts, nil
	}

	if err := loadConfigFile(opts.configPath, &cfg); err != nil {
		return cfg, opts, err
	}
	// Parse again so explicit flags win over the file.
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, nil
}

// loadConfigFile decodes a YAML file over cfg. Keys missing from the file
// keep their current values.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
