package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

const appName = "recicla"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile        string
	HttpMode          bool
	HttpPort          int
	MqttMode          bool
	ListNeighborhoods bool
	Lookup            string
	Group             string
	WasteType         string
	Classify          string
	Render            string
	Verbose           int
}

// Runner is the set of modes the CLI dispatches to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunListNeighborhoods() error
	RunLookup() error
	RunClassify() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("%v", err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the HTTP API and map endpoints")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish classification and lookup events to MQTT")
	fs.BoolVar(&opts.ListNeighborhoods, "list-neighborhoods", false, "Print the neighborhood list and exit")
	fs.StringVar(&opts.Lookup, "lookup", "", "Look up containers in the named neighborhood and exit")
	fs.StringVar(&opts.Group, "group", "solid", "Dataset group for --lookup (solid, other)")
	fs.StringVar(&opts.WasteType, "type", "All", "Waste type filter for --lookup")
	fs.StringVar(&opts.Classify, "classify", "", "Classify the image file and exit")
	fs.StringVar(&opts.Render, "render", "", "Write the --lookup map to this file (.svg, .png or .geojson)")
	fs.IntVar(&opts.Verbose, "verbose", 0, "Log verbosity (0 = info, 1 = debug)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s version: %s\n", appName, Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ListNeighborhoods:
		return app.RunListNeighborhoods()
	case opts.Lookup != "":
		return app.RunLookup()
	case opts.Classify != "":
		return app.RunClassify()
	case opts.Render != "":
		return fmt.Errorf("--render requires --lookup")
	default:
		fmt.Fprintf(out, "%s service starting...\n", appName)
		return app.RunService()
	}
}
