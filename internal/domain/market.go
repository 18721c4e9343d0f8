package domain

import "time"

// Outcome is one side of a moneyline market.
type Outcome struct {
	Team    string
	TokenID string
	Price   float64 // last known ask, 0 if unknown
}

// Market is a tradable moneyline market for a scheduled game.
type Market struct {
	ConditionID string
	Question    string
	Slug        string
	TipOff      time.Time
	Active      bool
	Closed      bool
	Outcomes    [2]Outcome
}

// OutcomeFor returns the outcome matching the given team.
func (m *Market) OutcomeFor(team string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.Team == team {
			return o, true
		}
	}
	return Outcome{}, false
}

// OppositeOf returns the other side of the moneyline.
func (m *Market) OppositeOf(team string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.Team != team {
			return o, true
		}
	}
	return Outcome{}, false
}

// Tradable reports whether orders can still be placed on this market.
func (m *Market) Tradable(now time.Time) bool {
	if !m.Active || m.Closed {
		return false
	}
	return m.TipOff.IsZero() || now.Before(m.TipOff)
}
