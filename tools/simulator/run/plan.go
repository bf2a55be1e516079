package run

import (
	"os"

	"github.com/pkg/errors"

	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/config"
)

func LoadSimulationPlan(path string) (config.SimulationPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.SimulationPlan{}, errors.Wrapf(err, "failed to read simulation plan at '%s'", path)
	}

	return config.DecodeSimulationPlan(data)
}
