package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"courtside/internal/domain"
)

const gammaEventsPath = "/events"

// gammaEvent is the subset of the Gamma event payload we read.
type gammaEvent struct {
	Slug      string        `json:"slug"`
	Title     string        `json:"title"`
	StartDate string        `json:"startDate"`
	Markets   []gammaMarket `json:"markets"`
}

// gammaMarket carries outcomes, prices and token IDs as JSON-encoded string
// arrays, the way Gamma serves them.
type gammaMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	GameStartTime string `json:"gameStartTime"`
}

// FetchMoneyline looks up the moneyline market for a scheduled game. Team
// codes are the short tricodes (e.g. "LAL", "BOS") and date is the tip-off
// date in YYYY-MM-DD. Returns (nil, nil) when the market is not listed yet:
// books open on Polymarket hours, not days, before tip-off.
func (c *Client) FetchMoneyline(ctx context.Context, away, home, date string) (*domain.Market, error) {
	slug := gameSlug(away, home, date)
	url := fmt.Sprintf("%s%s?slug=%s", c.gammaBase, gammaEventsPath, slug)

	var events []gammaEvent
	if err := c.get(ctx, c.gammaLimiter, url, &events); err != nil {
		return nil, fmt.Errorf("gamma.FetchMoneyline: %w", err)
	}
	if len(events) == 0 {
		slog.Debug("gamma: no event listed", "slug", slug)
		return nil, nil
	}

	for _, ev := range events {
		for _, gm := range ev.Markets {
			market, ok := mapMoneyline(gm, away, home)
			if !ok {
				continue
			}
			slog.Debug("gamma: moneyline found",
				"slug", slug, "condition", market.ConditionID,
				"away", fmt.Sprintf("%.2f", market.Outcomes[0].Price),
				"home", fmt.Sprintf("%.2f", market.Outcomes[1].Price))
			return market, nil
		}
	}
	return nil, nil
}

// gameSlug builds the Gamma event slug for an NBA game: nba-lal-bos-2026-01-15.
func gameSlug(away, home, date string) string {
	return fmt.Sprintf("nba-%s-%s-%s",
		strings.ToLower(away), strings.ToLower(home), date)
}

// mapMoneyline converts a Gamma market into a domain Market with the away
// team first, matching labels against the two tricodes. Markets with more or
// fewer than two outcomes are not moneylines.
func mapMoneyline(gm gammaMarket, away, home string) (*domain.Market, bool) {
	var labels, prices, tokens []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &labels); err != nil || len(labels) != 2 {
		return nil, false
	}
	if err := json.Unmarshal([]byte(gm.OutcomePrices), &prices); err != nil || len(prices) != 2 {
		return nil, false
	}
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokens); err != nil || len(tokens) != 2 {
		return nil, false
	}

	market := &domain.Market{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		Active:      gm.Active,
		Closed:      gm.Closed,
	}
	if t, err := time.Parse(time.RFC3339, gm.GameStartTime); err == nil {
		market.TipOff = t.UTC()
	}

	for i, label := range labels {
		team := matchTeam(label, away, home)
		if team == "" {
			return nil, false
		}
		outcome := domain.Outcome{
			Team:    team,
			TokenID: tokens[i],
			Price:   parsePrice(prices[i]),
		}
		if team == away {
			market.Outcomes[0] = outcome
		} else {
			market.Outcomes[1] = outcome
		}
	}
	if market.Outcomes[0].TokenID == "" || market.Outcomes[1].TokenID == "" {
		return nil, false
	}
	return market, true
}

// matchTeam resolves a Gamma outcome label to one of the two tricodes.
// Labels are either the tricode itself or the franchise name.
func matchTeam(label, away, home string) string {
	l := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case l == strings.ToUpper(away), strings.Contains(l, strings.ToUpper(teamName(away))):
		return away
	case l == strings.ToUpper(home), strings.Contains(l, strings.ToUpper(teamName(home))):
		return home
	}
	return ""
}

func parsePrice(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%f", &f)
	return f
}
