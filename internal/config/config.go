package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/trickstertwo/xstream"
	"github.com/trickstertwo/xstream/stage"
)

// DefaultFile is read when it exists in the working directory.
const DefaultFile = "xstream.yaml"

const envPrefix = "XSTREAM_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Redis     RedisConfig     `koanf:"redis"`
	Storage   StorageConfig   `koanf:"storage"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	// Streams is handed to redisstream.ConfigFromMap as is.
	Streams map[string]any `koanf:"streams"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PipelineConfig describes the message pipeline. When Topology lists
// channels it is used verbatim; otherwise the reference
// output -> processor -> sink layout is built from Bindings.
type PipelineConfig struct {
	EntryChannel   string            `koanf:"entry_channel"`
	MaxDepth       int               `koanf:"max_depth"`
	PublishTimeout time.Duration     `koanf:"publish_timeout"`
	Bindings       map[string]string `koanf:"bindings"`
	SinkStage      string            `koanf:"sink_stage"`
	Topology       xstream.Topology  `koanf:"topology"`

	// Redis Streams bridging, disabled when empty.
	MirrorStream  string `koanf:"mirror_stream"`
	InboundStream string `koanf:"inbound_stream"`
	DeadLetter    string `koanf:"dead_letter"`
}

type LogConfig struct {
	Debug   bool `koanf:"debug"`
	Console bool `koanf:"console"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Reference channel names.
const (
	ChannelOutput          = "output"
	ChannelProcessorInput  = "processorInput"
	ChannelProcessorOutput = "processorOutput"
	ChannelSinkInput       = "sinkInput"
)

var defaults = map[string]any{
	"server.port":              8080,
	"redis.addr":               "127.0.0.1:6379",
	"redis.db":                 0,
	"storage.sqlite.path":      "xstream.db",
	"pipeline.entry_channel":   ChannelOutput,
	"pipeline.max_depth":       xstream.DefaultMaxDepth,
	"pipeline.publish_timeout": "0s",
	"pipeline.sink_stage":      stage.LogSinkStageName,
	"telemetry.service_name":   "xstream",
}

// Load reads DefaultFile when present, then XSTREAM_* environment variables.
// A double underscore nests keys: XSTREAM_PIPELINE__MAX_DEPTH=8.
func Load() (*Config, error) {
	return LoadFile(DefaultFile)
}

// LoadFile is Load with an explicit YAML path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	// Environment overrides the file.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			_ = k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	if c.Pipeline.EntryChannel == "" {
		return fmt.Errorf("config: pipeline.entry_channel required")
	}
	if c.Pipeline.MaxDepth < 1 {
		return fmt.Errorf("config: pipeline.max_depth must be >= 1, got %d", c.Pipeline.MaxDepth)
	}
	if c.Pipeline.PublishTimeout < 0 {
		return fmt.Errorf("config: pipeline.publish_timeout must not be negative")
	}
	return nil
}

// PipelineTopology returns the configured topology, or the reference layout:
//
//	output --(bindings.output)--> processorInput: transform.reverse -> processorOutput
//	processorOutput --(bindings.sinkInput)--> sinkInput: SinkStage
//
// processorInput defaults to the output destination and processorOutput to
// the sinkInput destination, so the pipeline is connected unless bindings
// deliberately split it.
func (c *Config) PipelineTopology() xstream.Topology {
	if len(c.Pipeline.Topology.Channels) > 0 {
		return c.Pipeline.Topology
	}

	b := c.Pipeline.Bindings
	raw := firstNonEmpty(b[strings.ToLower(ChannelOutput)], b[ChannelOutput], "raw")
	reversed := firstNonEmpty(b[strings.ToLower(ChannelSinkInput)], b[ChannelSinkInput], "reversed")
	procIn := firstNonEmpty(b[strings.ToLower(ChannelProcessorInput)], b[ChannelProcessorInput], raw)
	procOut := firstNonEmpty(b[strings.ToLower(ChannelProcessorOutput)], b[ChannelProcessorOutput], reversed)

	sink := c.Pipeline.SinkStage
	if sink == "" {
		sink = stage.LogSinkStageName
	}

	return xstream.Topology{Channels: []xstream.ChannelSpec{
		{Name: ChannelOutput, Direction: "output", Destination: raw},
		{Name: ChannelProcessorInput, Direction: "input", Destination: procIn, Subscribers: []xstream.SubscriberSpec{
			{Stage: stage.ReverseStageName, Config: map[string]any{"target": ChannelProcessorOutput}},
		}},
		{Name: ChannelProcessorOutput, Direction: "output", Destination: procOut},
		{Name: ChannelSinkInput, Direction: "input", Destination: reversed, Subscribers: []xstream.SubscriberSpec{
			{Stage: sink},
		}},
	}}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
