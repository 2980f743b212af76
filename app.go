package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/tudoloc/scanmatch"
)

// defaultRobotID names the robot of offline runs when the scan does not
const defaultRobotID = "robot"

// App encapsulates the application state and dependencies
type App struct {
	Config     *scanmatch.Config
	Logger     *zap.Logger
	State      *scanmatch.StateTracker
	Localizer  *scanmatch.Localizer
	MQTTClient *scanmatch.MQTTClient
	Publisher  *scanmatch.Publisher

	opts AppOptions
	out  io.Writer
}

var _ Runner = (*App)(nil)

// NewApp creates an App that prints results to out
func NewApp(out io.Writer) *App {
	return &App{
		State: scanmatch.NewStateTracker(),
		out:   out,
	}
}

// ApplyOptions stores the parsed command line
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// setup loads the configuration and builds the logger. Offline modes fall
// back to defaults when the config file does not exist.
func (a *App) setup(requireConfig bool) error {
	cfg, err := scanmatch.LoadConfig(a.opts.ConfigFile)
	if err != nil {
		if requireConfig {
			return err
		}
		if _, statErr := os.Stat(a.opts.ConfigFile); statErr == nil {
			return err
		}
		cfg = scanmatch.DefaultConfig()
	}
	if a.opts.LogLevel != "" {
		cfg.Logging.Level = a.opts.LogLevel
	}
	if a.opts.HTTPPort != 0 {
		cfg.HTTP.Port = a.opts.HTTPPort
	}
	a.Config = cfg

	if a.Logger == nil {
		logger, err := scanmatch.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
		if err != nil {
			return err
		}
		a.Logger = logger
	}
	return nil
}

// ensureRobot adds an unconfigured robot for offline runs
func (a *App) ensureRobot(id string) {
	if a.Config.GetRobotByID(id) == nil {
		a.Config.Robots = append(a.Config.Robots, scanmatch.RobotConfig{ID: id})
	}
}

func (a *App) loadMap() (*scanmatch.ValetudoMap, error) {
	if a.opts.MapFile == "" {
		return nil, fmt.Errorf("-map is required")
	}
	vm, err := scanmatch.ParseMapFile(a.opts.MapFile)
	if err != nil {
		return nil, fmt.Errorf("loading map %s: %w", a.opts.MapFile, err)
	}
	return vm, nil
}

// matchOffline localizes one request against vm with a throwaway localizer
func (a *App) matchOffline(ctx context.Context, vm *scanmatch.ValetudoMap, req scanmatch.ScanRequest) (scanmatch.MatchResult, error) {
	a.ensureRobot(req.RobotID)
	loc, err := scanmatch.NewLocalizer(a.Config, a.State, nil, a.Logger)
	if err != nil {
		return scanmatch.MatchResult{}, err
	}
	a.Localizer = loc
	if err := loc.UpdateMap(req.RobotID, vm); err != nil {
		return scanmatch.MatchResult{}, err
	}
	return loc.Match(ctx, req)
}

// RunMatch matches the -scan request against the -map export once
func (a *App) RunMatch(ctx context.Context) error {
	if err := a.setup(false); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	vm, err := a.loadMap()
	if err != nil {
		return err
	}
	if a.opts.ScanFile == "" {
		return fmt.Errorf("-scan is required")
	}
	data, err := os.ReadFile(a.opts.ScanFile)
	if err != nil {
		return fmt.Errorf("reading scan: %w", err)
	}
	req, err := scanmatch.ParseScanRequest(data)
	if err != nil {
		return err
	}
	if req.RobotID == "" {
		req.RobotID = defaultRobotID
	}

	result, err := a.matchOffline(ctx, vm, *req)
	if err != nil {
		return err
	}
	if err := a.printJSON(struct {
		RobotID string                `json:"robotId"`
		Prior   scanmatch.RobotPose   `json:"prior"`
		Result  scanmatch.MatchResult `json:"result"`
	}{req.RobotID, req.Pose, result}); err != nil {
		return err
	}

	if a.opts.OutputFile != "" {
		return a.renderRobot(req.RobotID)
	}
	return nil
}

// RunSimulate ray-casts a scan from the robot pose recorded in -map, matches
// it from a perturbed prior and reports how much of the error was recovered
func (a *App) RunSimulate(ctx context.Context) error {
	if err := a.setup(false); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	vm, err := a.loadMap()
	if err != nil {
		return err
	}
	raw, err := scanmatch.GridFromValetudo(vm, scanmatch.GridOptions{})
	if err != nil {
		return err
	}

	truth, ok := scanmatch.RobotPoseFromMap(vm)
	if !ok {
		c := raw.Extent().Center()
		truth = scanmatch.RobotPose{X: c.X, Y: c.Y}
		a.Logger.Warn("map has no robot position, simulating from the map center")
	}

	scan := scanmatch.SimulateScan(raw, truth, a.opts.SimBeams, a.opts.SimRange)
	req := scanmatch.ScanRequest{
		RobotID:   defaultRobotID,
		Timestamp: time.Now().Unix(),
		Pose: truth.Add(scanmatch.PoseDelta{
			DX:     a.opts.SimDX,
			DY:     a.opts.SimDY,
			DTheta: scanmatch.DegToRad(a.opts.SimDThetaDeg),
		}),
		Scan: scan,
	}

	result, err := a.matchOffline(ctx, vm, req)
	if err != nil {
		return err
	}

	residual := scanmatch.PoseDelta{
		DX:     result.Pose.X - truth.X,
		DY:     result.Pose.Y - truth.Y,
		DTheta: scanmatch.NormalizeAngle(result.Pose.Theta - truth.Theta),
	}
	fmt.Fprintf(a.out, "truth:     %s\n", truth)
	fmt.Fprintf(a.out, "prior:     %s\n", req.Pose)
	fmt.Fprintf(a.out, "corrected: %s (score %.3f, %d expansions, %v)\n",
		result.Pose, result.Score, result.Stats.Expansions, result.Stats.Duration)
	fmt.Fprintf(a.out, "residual:  %s\n", residual)

	if a.opts.OutputFile != "" {
		return a.renderRobot(req.RobotID)
	}
	return nil
}

// RunRender renders -map with the robot pose it records
func (a *App) RunRender(_ context.Context) error {
	if err := a.setup(false); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	vm, err := a.loadMap()
	if err != nil {
		return err
	}
	grid, err := scanmatch.GridFromValetudo(vm, scanmatch.GridOptions{LikelihoodRadius: a.Config.Matcher.LikelihoodRadius})
	if err != nil {
		return err
	}

	overlay := scanmatch.MatchOverlay{RobotID: defaultRobotID}
	if pose, ok := scanmatch.RobotPoseFromMap(vm); ok {
		overlay.Prior = &pose
	}
	return a.renderTo(a.outputPath(), grid, overlay)
}

func (a *App) outputPath() string {
	if a.opts.OutputFile != "" {
		return a.opts.OutputFile
	}
	if a.opts.RenderFormat == "vector" {
		return "map.svg"
	}
	return "map.png"
}

// renderRobot renders the localizer's map and the latest match of a robot
func (a *App) renderRobot(robotID string) error {
	grid, _, err := a.Localizer.Map(robotID)
	if err != nil {
		return err
	}
	return a.renderTo(a.outputPath(), grid, a.State.Overlay(robotID))
}

func (a *App) renderTo(path string, grid *scanmatch.GridMap, overlay scanmatch.MatchOverlay) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if a.opts.RenderFormat == "vector" {
		err = scanmatch.RenderMatchSVG(f, grid, overlay)
	} else {
		err = scanmatch.EncodePNG(f, scanmatch.RenderMatch(grid, overlay, scanmatch.DefaultRenderScale))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %s\n", path)
	return nil
}

func (a *App) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

// RunService runs the localization service until ctx is cancelled: maps and
// scans arrive over MQTT, corrected poses are published back and served over
// HTTP.
func (a *App) RunService(ctx context.Context) error {
	if err := a.setup(true); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()
	logger := a.Logger

	logger.Info("starting tudoloc service",
		zap.String("version", Version),
		zap.Int("robots", len(a.Config.Robots)),
		zap.String("strategy", a.Config.Matcher.Strategy),
	)

	mqttClient, err := scanmatch.NewMQTTClient(a.Config, a.handleMap, a.scanHandler(ctx), logger)
	if err != nil {
		return err
	}
	a.MQTTClient = mqttClient

	var publisher scanmatch.PosePublisher
	if mqttClient != nil {
		a.Publisher = scanmatch.NewPublisher(mqttClient.Client(), a.Config.MQTT.PublishPrefix, logger)
		publisher = a.Publisher
	}

	loc, err := scanmatch.NewLocalizer(a.Config, a.State, publisher, logger)
	if err != nil {
		return err
	}
	a.Localizer = loc
	a.fetchInitialMaps(ctx)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.Config.HTTP.Port),
		Handler:           newHTTPServer(loc, a.State, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if mqttClient != nil {
		g.Go(func() error { return mqttClient.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("service stopped")
	return err
}

// fetchInitialMaps loads maps from the Valetudo API for robots with an apiUrl
func (a *App) fetchInitialMaps(ctx context.Context) {
	client := scanmatch.NewMapClient(scanmatch.WithFetchLogger(a.Logger))
	for _, rc := range a.Config.Robots {
		if rc.ApiURL == nil || *rc.ApiURL == "" {
			continue
		}
		vm, err := client.Fetch(ctx, *rc.ApiURL)
		if err != nil {
			a.Logger.Warn("fetching initial map failed", zap.String("robot", rc.ID), zap.Error(err))
			continue
		}
		if err := a.Localizer.UpdateMap(rc.ID, vm); err != nil {
			a.Logger.Warn("initial map rejected", zap.String("robot", rc.ID), zap.Error(err))
		}
	}
}

func (a *App) handleMap(robotID string, vm *scanmatch.ValetudoMap, err error) {
	if err != nil || a.Localizer == nil {
		return
	}
	if err := a.Localizer.UpdateMap(robotID, vm); err != nil {
		a.Logger.Warn("map update rejected", zap.String("robot", robotID), zap.Error(err))
	}
}

func (a *App) scanHandler(ctx context.Context) scanmatch.ScanHandler {
	return func(robotID string, req *scanmatch.ScanRequest, err error) {
		if err != nil || a.Localizer == nil {
			return
		}
		defer func() {
			if rvr := recover(); rvr != nil {
				a.Logger.Error("panic while matching scan", zap.String("robot", robotID), zap.Any("panic", rvr), zap.Stack("stacktrace"))
			}
		}()
		if _, err := a.Localizer.Match(ctx, *req); err != nil {
			a.Logger.Warn("scan match failed", zap.String("robot", robotID), zap.Error(err))
		}
	}
}
