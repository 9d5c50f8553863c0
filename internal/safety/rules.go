package safety

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Limits is the motion envelope in cylindrical coordinates.
type Limits struct {
	RMax     float64 `json:"rMax" yaml:"r_max"`
	ThetaMin float64 `json:"thetaMin" yaml:"theta_min"`
	ThetaMax float64 `json:"thetaMax" yaml:"theta_max"`
	ZMin     float64 `json:"zMin" yaml:"z_min"`
	ZMax     float64 `json:"zMax" yaml:"z_max"`
}

// InterlockRule is a named boolean condition evaluated against the live
// plant status. Conditions use expr syntax, e.g. "!status.EStopActive".
type InterlockRule struct {
	Name      string `json:"name" yaml:"name"`
	Condition string `json:"condition" yaml:"condition"`
	Message   string `json:"message" yaml:"message"`
}

// RuleSet is the full safety configuration loaded from YAML.
type RuleSet struct {
	Limits     Limits          `json:"limits" yaml:"limits"`
	Interlocks []InterlockRule `json:"interlocks" yaml:"interlocks"`
}

// LoadRules parses a YAML safety rules file.
func LoadRules(filePath string) (*RuleSet, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseRulesFromReader(file)
}

// ParseRulesFromReader parses rules from an io.Reader.
func ParseRulesFromReader(r io.Reader) (*RuleSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, err
	}

	return &rules, nil
}

// DefaultRules returns the envelope and interlocks used when no rules
// file is configured.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Limits: Limits{
			RMax:     300,
			ThetaMin: -180,
			ThetaMax: 180,
			ZMin:     0,
			ZMax:     120,
		},
		Interlocks: []InterlockRule{
			{
				Name:      "door_closed",
				Condition: "status.DoorClosed",
				Message:   "front door is open",
			},
			{
				Name:      "estop_clear",
				Condition: "!status.EStopActive",
				Message:   "emergency stop is engaged",
			},
			{
				Name:      "vacuum_pressure",
				Condition: "status.VacuumPressure >= 55.0",
				Message:   "vacuum pressure below operating threshold",
			},
		},
	}
}
