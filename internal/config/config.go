package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	TCPPort  int `mapstructure:"tcp_port"`
	UDPPort  int `mapstructure:"udp_port"`
	HTTPPort int `mapstructure:"http_port"`

	// MaxDatagram bounds one received UDP packet; UDPReadBuffer is the
	// kernel receive buffer, sized so bursts survive while a worker is
	// busy routing the previous packet.
	MaxDatagram   int `mapstructure:"max_datagram"`
	UDPReadBuffer int `mapstructure:"udp_read_buffer"`
	UDPWorkers    int `mapstructure:"udp_workers"`

	// SendQueue caps buffered control pushes per client; overflow costs
	// the client its connection.
	SendQueue int `mapstructure:"send_queue"`

	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	StatsInterval  time.Duration `mapstructure:"stats_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("tcp_port", 5000)
	v.SetDefault("udp_port", 5001)
	v.SetDefault("http_port", 8080)
	v.SetDefault("max_datagram", 65536)
	v.SetDefault("udp_read_buffer", 8*1024*1024)
	v.SetDefault("udp_workers", 4)
	v.SetDefault("send_queue", 64)
	v.SetDefault("session_timeout", "60s")
	v.SetDefault("sweep_interval", "15s")
	v.SetDefault("stats_interval", "5s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | TCP: %d | UDP: %d | HTTP: %d\n", cfg.Mode, cfg.TCPPort, cfg.UDPPort, cfg.HTTPPort)
	return &cfg, nil
}
