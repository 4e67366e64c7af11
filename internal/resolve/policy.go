package resolve

import (
	"fmt"

	"taxonmatch/internal/config"
	"taxonmatch/internal/services"
)

// Stage names.
const (
	StageManual      = "manual"
	StageDirect      = "direct"
	StageKNMS        = "knms"
	StageAutoresolve = "autoresolve"
)

// stagesFor returns the stage sequence for a match level.
func stagesFor(level string) ([]string, error) {
	switch level {
	case config.LevelFull:
		return []string{StageManual, StageDirect, StageKNMS, StageAutoresolve}, nil
	case config.LevelKNMS:
		return []string{StageManual, StageDirect, StageKNMS}, nil
	case config.LevelDirect:
		return []string{StageManual, StageDirect}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "match level",
			fmt.Sprintf("level %q must be one of %s, %s, %s", level, config.LevelFull, config.LevelKNMS, config.LevelDirect), nil)
	}
}

// resumeStages returns the stages Resume re-runs for a match level.
func resumeStages(level string) []string {
	switch level {
	case config.LevelFull:
		return []string{StageKNMS, StageAutoresolve}
	case config.LevelKNMS:
		return []string{StageKNMS}
	default:
		return nil
	}
}
