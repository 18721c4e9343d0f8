package polymarket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/adapters/polymarket"
)

const moneylineFixture = `[{
	"slug": "nba-lal-bos-2026-01-15",
	"title": "Lakers vs. Celtics",
	"startDate": "2026-01-15T19:30:00Z",
	"markets": [{
		"conditionId": "0xcond123",
		"question": "Lakers vs. Celtics",
		"slug": "nba-lal-bos-2026-01-15",
		"active": true,
		"closed": false,
		"outcomes": "[\"Los Angeles Lakers\", \"Boston Celtics\"]",
		"outcomePrices": "[\"0.52\", \"0.48\"]",
		"clobTokenIds": "[\"tok-lal\", \"tok-bos\"]",
		"gameStartTime": "2026-01-15T19:30:00Z"
	}]
}]`

func TestFetchMoneyline_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "nba-lal-bos-2026-01-15", r.URL.Query().Get("slug"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(moneylineFixture))
	}))
	defer srv.Close()

	client := polymarket.NewClient("", srv.URL)
	market, err := client.FetchMoneyline(context.Background(), "LAL", "BOS", "2026-01-15")
	require.NoError(t, err)
	require.NotNil(t, market)

	assert.Equal(t, "0xcond123", market.ConditionID)
	assert.True(t, market.Active)
	assert.False(t, market.Closed)
	assert.Equal(t, "2026-01-15T19:30:00Z", market.TipOff.Format("2006-01-02T15:04:05Z"))

	// away team first regardless of Gamma's ordering
	assert.Equal(t, "LAL", market.Outcomes[0].Team)
	assert.Equal(t, "tok-lal", market.Outcomes[0].TokenID)
	assert.InDelta(t, 0.52, market.Outcomes[0].Price, 0.0001)
	assert.Equal(t, "BOS", market.Outcomes[1].Team)
	assert.InDelta(t, 0.48, market.Outcomes[1].Price, 0.0001)
}

func TestFetchMoneyline_NotListedYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := polymarket.NewClient("", srv.URL)
	market, err := client.FetchMoneyline(context.Background(), "GSW", "DEN", "2026-01-16")
	require.NoError(t, err)
	assert.Nil(t, market)
}

func TestFetchMoneyline_TricodeLabels(t *testing.T) {
	fixture := `[{
		"slug": "nba-mia-nyk-2026-01-15",
		"markets": [{
			"conditionId": "0xcond456",
			"active": true,
			"closed": false,
			"outcomes": "[\"NYK\", \"MIA\"]",
			"outcomePrices": "[\"0.55\", \"0.45\"]",
			"clobTokenIds": "[\"tok-nyk\", \"tok-mia\"]",
			"gameStartTime": "2026-01-15T00:30:00Z"
		}]
	}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	client := polymarket.NewClient("", srv.URL)
	market, err := client.FetchMoneyline(context.Background(), "MIA", "NYK", "2026-01-15")
	require.NoError(t, err)
	require.NotNil(t, market)

	// Gamma listed home first; mapping reorders to away-first
	assert.Equal(t, "MIA", market.Outcomes[0].Team)
	assert.Equal(t, "tok-mia", market.Outcomes[0].TokenID)
	assert.InDelta(t, 0.45, market.Outcomes[0].Price, 0.0001)
	assert.Equal(t, "NYK", market.Outcomes[1].Team)
}

func TestFetchMoneyline_SkipsNonMoneylineMarkets(t *testing.T) {
	// three-outcome market (e.g. a prop) must not map
	fixture := `[{
		"slug": "nba-lal-bos-2026-01-15",
		"markets": [{
			"conditionId": "0xprop",
			"active": true,
			"outcomes": "[\"Over\", \"Under\", \"Push\"]",
			"outcomePrices": "[\"0.4\", \"0.4\", \"0.2\"]",
			"clobTokenIds": "[\"a\", \"b\", \"c\"]"
		}]
	}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	client := polymarket.NewClient("", srv.URL)
	market, err := client.FetchMoneyline(context.Background(), "LAL", "BOS", "2026-01-15")
	require.NoError(t, err)
	assert.Nil(t, market)
}

func TestFetchMoneyline_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := polymarket.NewClient("", srv.URL)
	_, err := client.FetchMoneyline(context.Background(), "LAL", "BOS", "2026-01-15")
	assert.Error(t, err)
}
