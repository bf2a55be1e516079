package run

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"

	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/config"
	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/telemetry"
)

type Outputs struct {
	SimulationLog           *log.Logger
	SettlementCollector     *telemetry.SettlementCollector
	simulationLogFileHandle *os.File
}

func (out *Outputs) Close() error {
	var err error

	if out.simulationLogFileHandle != nil {
		err = errors.Join(err, out.simulationLogFileHandle.Close())
	}

	return err
}

func SetupOutput(path string, verbose bool, plan config.SimulationPlan) (*Outputs, error) {
	if !verbose {
		return &Outputs{
			SimulationLog:       log.New(io.Discard, "", 0),
			SettlementCollector: telemetry.NewSettlementCollector("", false),
		}, nil
	}

	// the simulation writes to this directory and charts read from it
	err := os.MkdirAll(path, 0750)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, err
	}

	logger, lggF, err := openSimulationLog(path)
	if err != nil {
		return nil, err
	}

	if err := saveSimulationPlanToOutput(path, plan); err != nil {
		return nil, err
	}

	return &Outputs{
		SimulationLog:           logger,
		SettlementCollector:     telemetry.NewSettlementCollector(path, true),
		simulationLogFileHandle: lggF,
	}, nil
}

func saveSimulationPlanToOutput(path string, plan config.SimulationPlan) error {
	filename := fmt.Sprintf("%s/simulation_plan.json", path)
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC

	f, err := os.OpenFile(filename, flags, 0666)
	if err != nil {
		return fmt.Errorf("failed to open simulation plan file (%s): %v", filename, err)
	}

	defer f.Close()

	b, err := plan.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode simulation plan: %w", err)
	}

	l, err := f.Write(b)
	if err != nil {
		return fmt.Errorf("failed to write encoded simulation plan to file (%s): %w", filename, err)
	}

	if l != len(b) {
		return fmt.Errorf("failed to write encoded simulation plan to file (%s): not all bytes written", filename)
	}

	return nil
}

func openSimulationLog(path string) (*log.Logger, *os.File, error) {
	filename := fmt.Sprintf("%s/simulation.log", path)
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC

	f, err := os.OpenFile(filename, flags, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file (%s): %v", filename, err)
	}

	return log.New(f, "", log.LstdFlags), f, nil
}
