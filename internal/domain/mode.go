package domain

import "fmt"

// Mode selects how orders are executed. Live spends real money; paper and
// dry-run exercise the same state machine against a stub executor.
type Mode int

const (
	ModeDryRun Mode = iota
	ModePaper
	ModeLive
)

// ParseMode converts a config/flag string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "dry-run", "dryrun":
		return ModeDryRun, nil
	case "paper":
		return ModePaper, nil
	case "live":
		return ModeLive, nil
	default:
		return ModeDryRun, fmt.Errorf("domain.ParseMode: unknown mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModePaper:
		return "paper"
	default:
		return "dry-run"
	}
}

// IsLive reports whether real capital is at risk. The scheduler uses this to
// decide between deferring and skipping a job when no market is found yet.
func (m Mode) IsLive() bool {
	return m == ModeLive
}
