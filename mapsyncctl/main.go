package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/mapshare/mapsync/mapsync"
)

const MapSyncCtlVersion = "0.0.1"

const DefaultHubUrl = "ws://127.0.0.1:7670/ws"
const DefaultLoadUrl = "http://127.0.0.1:7670/features"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(`Map sync control.

The default urls are:
    hub_url: %s
    load_url: %s

Usage:
    mapsyncctl watch [--hub_url=<hub_url>] [--load_url=<load_url>]
    mapsyncctl add point <lon> <lat> [--name=<name>] [--color=<color>]
        [--hub_url=<hub_url>]
    mapsyncctl add circle <lon> <lat> <radius> [--name=<name>] [--color=<color>]
        [--hub_url=<hub_url>]
    mapsyncctl remove <id> [--hub_url=<hub_url>]
    mapsyncctl load [--load_url=<load_url>]

Options:
    -h --help               Show this screen.
    --version               Show version.
    --hub_url=<hub_url>
    --load_url=<load_url>
    --name=<name>           Feature display name.
    --color=<color>         Feature color.`,
		DefaultHubUrl,
		DefaultLoadUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], MapSyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if add_, _ := opts.Bool("add"); add_ {
		add(opts)
	} else if remove_, _ := opts.Bool("remove"); remove_ {
		remove(opts)
	} else if load_, _ := opts.Bool("load"); load_ {
		load(opts)
	}
}

func hubUrl(opts docopt.Opts) string {
	if hubUrlAny := opts["--hub_url"]; hubUrlAny != nil {
		return hubUrlAny.(string)
	}
	return DefaultHubUrl
}

func loadUrl(opts docopt.Opts) string {
	if loadUrlAny := opts["--load_url"]; loadUrlAny != nil {
		return loadUrlAny.(string)
	}
	return DefaultLoadUrl
}

// watch mirrors the shared feature set into a log renderer until
// interrupted.
func watch(opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := mapsync.NewWebsocketTransportWithDefaults(cancelCtx, hubUrl(opts))
	channel := mapsync.NewMessageChannelWithDefaults(transport)
	client := mapsync.NewClient(cancelCtx, newLogRenderer(Out), channel)
	defer client.Close()

	client.Connect(func() {
		Out.Printf("connected to %s", hubUrl(opts))
		client.Load(loadUrl(opts))
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	<-stop
}

// add publishes one feature and exits.
func add(opts docopt.Opts) {
	lon := parseFloat(opts, "<lon>")
	lat := parseFloat(opts, "<lat>")

	var feature *mapsync.Feature
	if point_, _ := opts.Bool("point"); point_ {
		feature = &mapsync.Feature{
			Id: mapsync.NewId(),
			Geometry: mapsync.Geometry{
				Type:        mapsync.GeometryPoint,
				Coordinates: mapsync.Coord{lon, lat},
			},
			Properties: mapsync.DefaultProperties(mapsync.ShapeKindMarker),
		}
	} else {
		radius := parseFloat(opts, "<radius>")
		feature = &mapsync.Feature{
			Id: mapsync.NewId(),
			Geometry: mapsync.Geometry{
				Type:        mapsync.GeometryCircle,
				Coordinates: mapsync.Coord{lon, lat},
			},
			Properties: mapsync.DefaultProperties(mapsync.ShapeKindCircle),
		}
		feature.Properties[mapsync.PropertyRadius] = radius
	}
	if nameAny := opts["--name"]; nameAny != nil {
		feature.Properties[mapsync.PropertyName] = nameAny.(string)
	}
	if colorAny := opts["--color"]; colorAny != nil {
		feature.Properties[mapsync.PropertyColor] = colorAny.(string)
	}

	sendOne(opts, mapsync.MessageTypeAdd, feature, "")
	Out.Printf("added %s", feature.Id)
}

func remove(opts docopt.Opts) {
	id := mapsync.Id(opts["<id>"].(string))
	sendOne(opts, mapsync.MessageTypeRemove, nil, id)
	Out.Printf("removed %s", id)
}

func load(opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	features := mapsync.LoadFeatures(cancelCtx, loadUrl(opts))
	for _, feature := range features {
		stats := mapsync.ProjectStats(feature)
		Out.Printf("%s %s %s %s", feature.Id, feature.Geometry.Type, feature.Name(), formatStats(stats))
	}
	Out.Printf("%d features", len(features))
}

func sendOne(opts docopt.Opts, messageType mapsync.MessageType, data any, id mapsync.Id) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := mapsync.NewWebsocketTransportWithDefaults(cancelCtx, hubUrl(opts))
	channel := mapsync.NewMessageChannelWithDefaults(transport)
	defer channel.Disconnect()

	ready := make(chan struct{})
	channel.Connect(func() {
		close(ready)
	})
	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		Err.Fatalf("connect to %s timeout", hubUrl(opts))
	}
	if err := channel.Send(messageType, data, id); err != nil {
		Err.Fatalf("send error = %s", err)
	}
	// give the write pump a moment to flush
	time.Sleep(200 * time.Millisecond)
}

func parseFloat(opts docopt.Opts, key string) float64 {
	value, err := strconv.ParseFloat(opts[key].(string), 64)
	if err != nil {
		Err.Fatalf("%s must be a number: %s", key, err)
	}
	return value
}

func formatStats(stats *mapsync.Stats) string {
	s := ""
	if stats.Position != nil {
		s += fmt.Sprintf("pos=(%g,%g) ", stats.Position[0], stats.Position[1])
	}
	if stats.Area != 0 {
		s += fmt.Sprintf("area=%g ", stats.Area)
	}
	if stats.Perimeter != 0 {
		s += fmt.Sprintf("perimeter=%g ", stats.Perimeter)
	}
	if stats.Length != 0 {
		s += fmt.Sprintf("length=%g ", stats.Length)
	}
	return s
}
