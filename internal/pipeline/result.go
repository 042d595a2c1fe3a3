package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ResultFileName is the structured result the analyzer writes into its
// output directory.
const ResultFileName = "target_howto.json"

// SummarySchemaVersion versions the persisted summary format.
const SummarySchemaVersion = 1

// resultFile mirrors the analyzer's output contract. All fields are
// optional; the analyzer omits what it could not determine.
type resultFile struct {
	InstallSteps []json.RawMessage `json:"install_steps"`
	Config       []json.RawMessage `json:"config"`
	RunDev       []json.RawMessage `json:"run_dev"`
	RunProd      []json.RawMessage `json:"run_prod"`
	Endpoints    []json.RawMessage `json:"endpoints"`
	Unknowns     []json.RawMessage `json:"unknowns"`
}

// Summary is the condensed view persisted on the Run.
type Summary struct {
	SchemaVersion int `json:"schema_version"`
	BootCommands  int `json:"boot_commands"`
	InstallSteps  int `json:"install_steps"`
	Endpoints     int `json:"endpoints"`
	EnvVars       int `json:"env_vars"`
	Gaps          int `json:"gaps"`
}

// ParseResult reads and summarizes the analyzer's result file. A
// missing or unparsable file is not a failure: the analyzer exiting
// zero already decided the run. Returns (nil, false) when no summary
// exists.
func ParseResult(outDir string) (*Summary, bool) {
	data, err := os.ReadFile(filepath.Join(outDir, ResultFileName))
	if err != nil {
		return nil, false
	}
	var rf resultFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, false
	}
	return &Summary{
		SchemaVersion: SummarySchemaVersion,
		BootCommands:  len(rf.RunDev) + len(rf.RunProd),
		InstallSteps:  len(rf.InstallSteps),
		Endpoints:     len(rf.Endpoints),
		EnvVars:       len(rf.Config),
		Gaps:          len(rf.Unknowns),
	}, true
}
