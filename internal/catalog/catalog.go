// Package catalog holds the registry of known scrapers. A job can only
// be submitted for a scraper that appears here.
package catalog

// Scraper describes one entry in the scraper catalog.
type Scraper struct {
	Name        string // display name, shown in the UI and used on submit
	Type        string // module name, selects the script the container runs
	Description string
	Icon        string
}

var scrapers = []Scraper{
	{
		Name:        "FairHealth Physician",
		Type:        "Fair_Health_Physicians",
		Description: "Physician fee schedules",
		Icon:        "👨‍⚕️",
	},
	{
		Name:        "FairHealth ASC",
		Type:        "Fair_Health_Facility",
		Description: "Ambulatory Surgery Center rates",
		Icon:        "🏥",
	},
	{
		Name:        "Medicare Lab",
		Type:        "Medicare_Clinical_Fees",
		Description: "Clinical Lab Fee Schedule",
		Icon:        "💰",
	},
	{
		Name:        "Medicare Facility",
		Type:        "Medicare_ASC_Addenda",
		Description: "Medicare Facility rates",
		Icon:        "📋",
	},
	{
		Name:        "Novitas OBL",
		Type:        "Novitas",
		Description: "Office-Based Lab rates",
		Icon:        "📊",
	},
	{
		Name:        "NJ PIP",
		Type:        "New_Jersey_DOBI",
		Description: "New Jersey Personal Injury Protection",
		Icon:        "🏛️",
	},
}

// All returns every scraper in the catalog.
func All() []Scraper {
	out := make([]Scraper, len(scrapers))
	copy(out, scrapers)
	return out
}

// ByName looks up a scraper by its display name.
func ByName(name string) (Scraper, bool) {
	for _, s := range scrapers {
		if s.Name == name {
			return s, true
		}
	}
	return Scraper{}, false
}

// ByType looks up a scraper by its module name.
func ByType(typ string) (Scraper, bool) {
	for _, s := range scrapers {
		if s.Type == typ {
			return s, true
		}
	}
	return Scraper{}, false
}

// Valid reports whether name is a known scraper display name.
func Valid(name string) bool {
	_, ok := ByName(name)
	return ok
}
