package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	MapFile      string
	ScanFile     string
	OutputFile   string
	RenderFormat string
	LogLevel     string
	HTTPPort     int

	Match    bool
	Simulate bool
	Render   bool
	Service  bool

	// -simulate perturbation of the prior pose (meters, degrees)
	SimDX        float64
	SimDY        float64
	SimDThetaDeg float64
	SimBeams     int
	SimRange     float64
}

// Runner is what run dispatches to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunMatch(ctx context.Context) error
	RunSimulate(ctx context.Context) error
	RunRender(ctx context.Context) error
	RunService(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if err == flag.ErrHelp {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "tudoloc: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("tudoloc", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.MapFile, "map", "", "Valetudo map export (JSON or PNG) for offline modes")
	fs.StringVar(&opts.ScanFile, "scan", "", "Scan request JSON for -match")
	fs.BoolVar(&opts.Match, "match", false, "Match -scan against -map once and print the result")
	fs.BoolVar(&opts.Simulate, "simulate", false, "Synthesize a scan from -map at the robot pose, perturb the prior and match it")
	fs.BoolVar(&opts.Render, "render", false, "Render -map (and the match result, if any) to -output")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for rendered images")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster or vector")
	fs.BoolVar(&opts.Service, "service", false, "Run the MQTT + HTTP localization service")
	fs.IntVar(&opts.HTTPPort, "http-port", 0, "HTTP server port (overrides config)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	fs.Float64Var(&opts.SimDX, "sim-dx", 0.3, "Prior X error for -simulate (meters)")
	fs.Float64Var(&opts.SimDY, "sim-dy", -0.2, "Prior Y error for -simulate (meters)")
	fs.Float64Var(&opts.SimDThetaDeg, "sim-dtheta", 2, "Prior heading error for -simulate (degrees)")
	fs.IntVar(&opts.SimBeams, "sim-beams", 360, "Beams of the simulated scan")
	fs.Float64Var(&opts.SimRange, "sim-range", 8, "Range of the simulated scan (meters)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(out, "tudoloc version: %s\n", Version)

	switch opts.RenderFormat {
	case "raster", "vector":
	default:
		return fmt.Errorf("unknown -format %q (want raster or vector)", opts.RenderFormat)
	}

	app.ApplyOptions(opts)
	switch {
	case opts.Match:
		return app.RunMatch(ctx)
	case opts.Simulate:
		return app.RunSimulate(ctx)
	case opts.Render:
		return app.RunRender(ctx)
	case opts.Service:
		return app.RunService(ctx)
	}

	fmt.Fprintln(out, "Nothing to do. Modes:")
	fmt.Fprintln(out, "  -match -map FILE -scan FILE      match one scan offline")
	fmt.Fprintln(out, "  -simulate -map FILE              match a synthetic scan")
	fmt.Fprintln(out, "  -render -map FILE -output FILE   render a map")
	fmt.Fprintln(out, "  -service                         run the MQTT + HTTP service")
	return nil
}
