package main

import (
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	offlineworker "github.com/always-cache/offline-worker"
	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/strategy"
)

var errNoOrigin = zerr.New("please specify origin")

type Config struct {
	Origin string `yaml:"origin"`
	Host   string `yaml:"host"`
	Listen string `yaml:"listen"`

	// Cache DB file name. "memory" keeps the db in memory, empty uses a plain map.
	DB            string `yaml:"db"`
	Compress      bool   `yaml:"compress"`
	MemoryEntries int    `yaml:"memoryEntries"`

	Prefix  string   `yaml:"prefix"`
	Version int      `yaml:"version"`
	Shell   []string `yaml:"shell"`

	APIPrefix         string        `yaml:"apiPrefix"`
	RootDocument      string        `yaml:"rootDocument"`
	OfflineDocument   string        `yaml:"offlineDocument"`
	SeriesEndpoint    string        `yaml:"seriesEndpoint"`
	Timeout           time.Duration `yaml:"timeout"`
	BackgroundTimeout time.Duration `yaml:"backgroundTimeout"`
	Preset            string        `yaml:"preset"`
	PeriodicInterval  time.Duration `yaml:"periodicInterval"`

	// Expose Prometheus metrics on the worker router.
	Metrics bool `yaml:"metrics"`
}

func defaultConfig() Config {
	return Config{
		Listen:            ":8080",
		DB:                "cache.db",
		MemoryEntries:     1024,
		Version:           1,
		Timeout:           strategy.DefaultTimeout,
		BackgroundTimeout: strategy.DefaultBackgroundTimeout,
		Preset:            string(strategy.PresetTimeoutRace),
	}
}

// readConfig reads a YAML config file on top of the defaults.
func readConfig(filename string) (Config, error) {
	config := defaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, zerr.With(zerr.Wrap(err, "parse config"), "file", filename)
	}
	return config, nil
}

func (c Config) validate() error {
	if c.Origin == "" {
		return errNoOrigin
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "parse origin"), "origin", c.Origin)
	}
	if u.Scheme == "" || u.Host == "" {
		return zerr.With(zerr.New("origin must be an absolute URL"), "origin", c.Origin)
	}
	if _, err := strategy.ParsePreset(c.Preset); err != nil {
		return err
	}
	return nil
}

// openStore opens the cache store described by the config.
func (c Config) openStore(logger *zerolog.Logger) (cache.CacheStore, error) {
	if c.DB == "" {
		return cache.NewMemStore(), nil
	}
	opts := cache.SQLiteOptions{
		Filename:      c.DB,
		MemoryEntries: c.MemoryEntries,
		Logger:        logger,
	}
	if c.Compress {
		codec, err := cache.NewZstdCodec()
		if err != nil {
			return nil, err
		}
		opts.Codec = codec
	}
	return cache.NewSQLiteStore(opts)
}

// workerConfig translates the file config into the worker config.
// The config must be valid.
func (c Config) workerConfig(store cache.CacheStore, logger *zerolog.Logger) offlineworker.Config {
	originURL, _ := url.Parse(c.Origin)
	preset, _ := strategy.ParsePreset(c.Preset)
	config := offlineworker.Config{
		Store:             store,
		OriginURL:         *originURL,
		OriginHost:        c.Host,
		Prefix:            c.Prefix,
		Version:           c.Version,
		Shell:             c.Shell,
		APIPrefix:         c.APIPrefix,
		Preset:            preset,
		Timeout:           c.Timeout,
		BackgroundTimeout: c.BackgroundTimeout,
		RootDocument:      c.RootDocument,
		OfflineDocument:   c.OfflineDocument,
		SeriesEndpoint:    c.SeriesEndpoint,
		PeriodicInterval:  c.PeriodicInterval,
		Logger:            logger,
	}
	if c.Metrics {
		config.Registry = prometheus.NewRegistry()
	}
	return config
}
