package polymarket

// NBA tricode → franchise nickname, the label Gamma usually puts on
// moneyline outcomes.
var nbaTeamNames = map[string]string{
	"ATL": "Hawks",
	"BOS": "Celtics",
	"BKN": "Nets",
	"CHA": "Hornets",
	"CHI": "Bulls",
	"CLE": "Cavaliers",
	"DAL": "Mavericks",
	"DEN": "Nuggets",
	"DET": "Pistons",
	"GSW": "Warriors",
	"HOU": "Rockets",
	"IND": "Pacers",
	"LAC": "Clippers",
	"LAL": "Lakers",
	"MEM": "Grizzlies",
	"MIA": "Heat",
	"MIL": "Bucks",
	"MIN": "Timberwolves",
	"NOP": "Pelicans",
	"NYK": "Knicks",
	"OKC": "Thunder",
	"ORL": "Magic",
	"PHI": "76ers",
	"PHX": "Suns",
	"POR": "Trail Blazers",
	"SAC": "Kings",
	"SAS": "Spurs",
	"TOR": "Raptors",
	"UTA": "Jazz",
	"WAS": "Wizards",
}

// teamName returns the franchise nickname for a tricode, or the tricode
// itself when unknown so matching degrades instead of failing.
func teamName(code string) string {
	if name, ok := nbaTeamNames[code]; ok {
		return name
	}
	return code
}
