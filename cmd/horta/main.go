// Command-line interface for the horta tracing server.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/server"
	"github.com/janelia-flyem/horta/storage"
	"github.com/janelia-flyem/horta/trace"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Address for http communication, overriding the TOML setting.
	httpAddress = flag.String("http", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")
)

const helpMessage = `
horta traces neuron paths through octree KTX tile volumes

Usage: horta [options] <command>

      -http       =string   Address for HTTP communication.
      -cpuprofile =string   Write CPU profile to this file.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve  <config.toml>
	trace  <config.toml> <anchor1> <anchor2> <x,y,z> <x,y,z> [timeout=10s] [padding=10]
	tile   <config.toml> <octree path, e.g. 2/0/5>
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		horta.Verbose = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if err := DoCommand(horta.Command(flag.Args())); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(cmd horta.Command) error {
	switch cmd.Name() {
	case "serve":
		return DoServe(cmd)
	case "trace":
		return DoTrace(cmd)
	case "tile":
		return DoTile(cmd)
	case "about":
		fmt.Printf("horta %s\nStorage engines: %s\n", server.Version, storage.EnginesAvailable())
		return nil
	default:
		return fmt.Errorf("unknown command %q, try 'horta help'", cmd.Name())
	}
}

func loadConfig(cmd horta.Command) (*server.Config, error) {
	var filename string
	cmd.CommandArgs(&filename)
	if filename == "" {
		return nil, fmt.Errorf("%s command must be followed by the path to a TOML config file", cmd.Name())
	}
	return server.LoadConfig(filename)
}

// DoServe runs the HTTP server until interrupted.
func DoServe(cmd horta.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if *httpAddress != "" {
		config.Server.HTTPAddress = *httpAddress
	}
	return server.Serve(config)
}

// DoTrace runs one trace against the configured volume and prints the result as JSON.
func DoTrace(cmd horta.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var filename, a1Str, a2Str, p1Str, p2Str string
	cmd.CommandArgs(&filename, &a1Str, &a2Str, &p1Str, &p2Str)
	a1, err := strconv.ParseUint(a1Str, 10, 64)
	if err != nil {
		return fmt.Errorf("bad anchor %q: %v", a1Str, err)
	}
	a2, err := strconv.ParseUint(a2Str, 10, 64)
	if err != nil {
		return fmt.Errorf("bad anchor %q: %v", a2Str, err)
	}
	p1, err := horta.ParsePoint3d(p1Str)
	if err != nil {
		return err
	}
	p2, err := horta.ParsePoint3d(p2Str)
	if err != nil {
		return err
	}
	if v, found := cmd.Parameter("timeout"); found {
		if config.Trace.Timeout.Duration, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("bad timeout %q: %v", v, err)
		}
	}
	if v, found := cmd.Parameter("padding"); found {
		padding, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("bad padding %q: %v", v, err)
		}
		config.Trace.Padding = int32(padding)
	}

	s, err := server.New(config)
	if err != nil {
		return err
	}
	defer s.Close()

	req := trace.NewPathTraceRequest(a1, a2, p1, p2)
	future := s.Traces().Submit(req)
	result, err := future.Wait(context.Background())
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"job_id":      future.JobID(),
		"segment":     req.Segment.String(),
		"outcome":     result.Outcome.String(),
		"path":        result.Path,
		"intensities": result.Intensities,
		"cost":        result.Cost,
		"expanded":    result.Expanded,
		"elapsed":     result.Elapsed.String(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// DoTile loads one tile through the configured source and describes it.
func DoTile(cmd horta.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var filename, path string
	cmd.CommandArgs(&filename, &path)
	addr, err := octree.ParseAddress(path)
	if err != nil {
		return err
	}
	layout := config.Layout()
	if addr.Depth() > layout.MaxDepth {
		return fmt.Errorf("tile %s is deeper than octree depth %d", addr, layout.MaxDepth)
	}

	s, err := server.New(config)
	if err != nil {
		return err
	}
	defer s.Close()

	key := layout.Key(addr)
	s.Cache().Request(key)
	status, err := s.Cache().Wait(context.Background(), key)
	if err != nil {
		return err
	}
	if status.Err != nil {
		return status.Err
	}
	b := status.Block
	fmt.Printf("Tile %s covering %s\n", key, layout.BlockExtents(key))
	fmt.Printf("  %d x %d x %d voxels, %d channel(s) of %d byte(s), %s\n",
		b.Width, b.Height, b.Depth, b.Channels, b.BytesPerSample, b.Order)
	fmt.Printf("  %d mipmap level(s), %s\n", len(b.Levels), horta.ByteCount(b.NumBytes()))
	for _, kv := range b.Metadata {
		fmt.Printf("  %s = %q\n", kv.Key, kv.Value)
	}
	return nil
}
