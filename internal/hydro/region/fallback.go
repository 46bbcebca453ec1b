package region

// fallbackRegions are curated administrative names used when station
// metadata is too sparse to build a browsing list.
var fallbackRegions = map[string][]string{
	"australia": {
		"New South Wales", "Victoria", "Queensland", "South Australia",
		"Western Australia", "Tasmania", "Northern Territory",
		"Australian Capital Territory",
	},
	"new_zealand": {
		"Northland", "Auckland", "Waikato", "Bay of Plenty", "Gisborne",
		"Hawke's Bay", "Taranaki", "Manawatū-Whanganui", "Wellington",
		"Tasman", "Nelson", "Marlborough", "West Coast", "Canterbury",
		"Otago", "Southland",
	},
	"united_kingdom": {
		"Thames", "Severn", "Humber", "Anglian", "North West", "South West",
		"Northumbria", "Wessex", "Solent and South Downs",
		"River Thames", "River Avon", "River Trent", "River Severn",
		"River Ouse", "River Tyne", "River Mersey", "River Dee",
	},
	"canada": {
		"Alberta", "British Columbia", "Manitoba", "New Brunswick",
		"Newfoundland and Labrador", "Northwest Territories", "Nova Scotia",
		"Nunavut", "Ontario", "Prince Edward Island", "Quebec",
		"Saskatchewan", "Yukon",
	},
	"european_union": {
		"France", "Germany", "Spain", "Italy", "Netherlands", "Belgium",
		"Sweden", "Finland", "Poland", "Portugal", "Austria", "Ireland",
		"Greece", "Denmark", "Czech Republic", "Slovakia", "Hungary",
		"Romania", "Bulgaria", "Croatia", "Slovenia", "Estonia", "Latvia",
		"Lithuania", "Luxembourg", "Cyprus", "Malta",
	},
}

// Fallback returns a copy of the builtin fallback list of a provider, or nil.
func Fallback(providerID string) []string {
	list := fallbackRegions[providerID]
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}
