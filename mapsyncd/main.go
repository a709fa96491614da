package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/docopt/docopt-go"

	"gopkg.in/yaml.v3"

	"github.com/mapshare/mapsync/hub"
	"github.com/mapshare/mapsync/mapsync"
)

const MapSyncdVersion = "0.0.1"

type Config struct {
	Listen       string            `yaml:"listen"`
	WsPath       string            `yaml:"ws_path"`
	FeaturesPath string            `yaml:"features_path"`
	Routes       map[string]string `yaml:"routes"`
	// optional bulkAdd envelope file applied at startup
	Seed string `yaml:"seed"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:       ":7670",
		WsPath:       "/ws",
		FeaturesPath: "/features",
	}
}

func main() {
	usage := `Map sync hub.

Usage:
    mapsyncd [--config=<config>] [--listen=<listen>]

Options:
    -h --help            Show this screen.
    --version            Show version.
    -c --config=<config> Yaml config file.
    -l --listen=<listen> Listen address, overrides the config file.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], MapSyncdVersion)
	if err != nil {
		panic(err)
	}

	config := DefaultConfig()
	if configPathAny := opts["--config"]; configPathAny != nil {
		configBytes, err := os.ReadFile(configPathAny.(string))
		if err != nil {
			glog.Exitf("read config error = %s\n", err)
		}
		if err := yaml.Unmarshal(configBytes, config); err != nil {
			glog.Exitf("parse config error = %s\n", err)
		}
	}
	if listenAny := opts["--listen"]; listenAny != nil {
		config.Listen = listenAny.(string)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := hub.DefaultSettings()
	if 0 < len(config.Routes) {
		settings.Routes = config.Routes
	}
	h := hub.NewHub(cancelCtx, settings)

	if config.Seed != "" {
		seed(h, config.Seed)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.WsPath, h.ServeWs)
	mux.HandleFunc(config.FeaturesPath, h.ServeFeatures)
	server := &http.Server{
		Addr:    config.Listen,
		Handler: mux,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
		select {
		case <-stop:
		case <-cancelCtx.Done():
		}
		server.Close()
	}()

	glog.Infof("listening on %s\n", config.Listen)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		glog.Exitf("serve error = %s\n", err)
	}
}

func seed(h *hub.Hub, seedPath string) {
	seedBytes, err := os.ReadFile(seedPath)
	if err != nil {
		glog.Exitf("read seed error = %s\n", err)
	}
	envelope, err := mapsync.DecodeEnvelope(seedBytes)
	if err != nil {
		glog.Exitf("parse seed error = %s\n", err)
	}
	if envelope.Type != mapsync.MessageTypeBulkAdd {
		glog.Exitf("seed must be a bulkAdd envelope, got %s\n", envelope.Type)
	}
	features, err := envelope.Features()
	if err != nil {
		glog.Exitf("seed payload error = %s\n", err)
	}
	cleaned := make([]*mapsync.Feature, 0, len(features))
	for _, feature := range features {
		cleaned = append(cleaned, mapsync.CleanFeature(feature))
	}
	h.Store().ReplaceAll(cleaned)
	glog.Infof("seeded %d features\n", len(cleaned))
}
