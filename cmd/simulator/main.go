package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/run"
)

var (
	planFile    = flag.StringP("simulation-file", "f", "./simulation_plan.json", "file path to simulation plan")
	outputDir   = flag.StringP("output-directory", "o", "./simulation_output", "directory path to output simulation logs and telemetry")
	verbose     = flag.BoolP("verbose", "v", true, "make output verbose (prints logs and telemetry to output directory)")
	charts      = flag.Bool("charts", false, "render settlement charts to the output directory after the run")
	serveCharts = flag.Bool("serve-charts", false, "serve settlement charts over http after the run")
	chartPort   = flag.Int("chart-port", 8081, "port to serve charts on")
	maxRunTime  = flag.Int("max-run-time", 0, "max run time in seconds for the simulation; 0 for no limit")
	profiler    = flag.Bool("pprof", false, "run pprof server on startup")
	pprofPort   = flag.Int("pprof-port", 6060, "port to serve the profiler on")
)

func main() {
	flag.Parse()

	if *profiler {
		log.Println("starting profiler; waiting 5 seconds to start simulation")
		go func() {
			log.Println(http.ListenAndServe(fmt.Sprintf("localhost:%d", *pprofPort), nil))
		}()
		<-time.After(5 * time.Second)
	}

	plan, err := run.LoadSimulationPlan(*planFile)
	if err != nil {
		log.Printf("failed to load simulation plan: %s", err)
		os.Exit(1)
	}

	outputs, err := run.SetupOutput(*outputDir, *verbose, plan)
	if err != nil {
		log.Printf("failed to set up output directory: %s", err)
		os.Exit(1)
	}

	defer outputs.Close()

	runner, err := run.NewRunner(plan, outputs)
	if err != nil {
		log.Printf("failed to initialize simulation: %s", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if *maxRunTime > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(*maxRunTime)*time.Second)
		defer cancel()
	}

	log.Println("starting simulation")

	if err := runner.Run(ctx); err != nil {
		log.Printf("simulation failed: %s", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stdout, outputs.SettlementCollector.PrintTabularResults())

	if err := outputs.SettlementCollector.WriteResults(); err != nil {
		log.Printf("failed to write telemetry results: %s", err)
	}

	if *charts {
		path := fmt.Sprintf("%s/settlement_charts.html", *outputDir)
		if err := outputs.SettlementCollector.RenderChartsToFile(path); err != nil {
			log.Printf("failed to render charts: %s", err)
		}
	}

	if *serveCharts {
		http.Handle("/charts", outputs.SettlementCollector.SummaryChart())

		log.Printf("serving charts at http://localhost:%d/charts", *chartPort)
		log.Println(http.ListenAndServe(fmt.Sprintf(":%d", *chartPort), nil))
	}
}
