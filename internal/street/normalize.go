package street

import "strings"

// Normalize canonicalizes a street name as typed in the field: whitespace
// is collapsed and a leading abbreviated street type is spelled out, so
// "r. de la Paix" and "Rue de la Paix" count as the same street.
// Everything after the type is left as written.
func Normalize(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}

	// Phase 1: exact match on the first word, ignoring case and a trailing dot
	head := strings.ToLower(strings.TrimSuffix(fields[0], "."))
	if full, ok := abbreviations[head]; ok && len(fields) > 1 {
		fields[0] = full
		return strings.Join(fields, " ")
	}

	// Phase 2: capitalize a spelled-out type
	if full, ok := streetTypes[head]; ok {
		fields[0] = full
	}
	return strings.Join(fields, " ")
}

// Type returns the spelled-out street type of a normalized name, or "" when
// the name does not start with a known type.
func Type(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return streetTypes[strings.ToLower(fields[0])]
}

var abbreviations = map[string]string{
	"r":    "Rue",
	"av":   "Avenue",
	"ave":  "Avenue",
	"bd":   "Boulevard",
	"bld":  "Boulevard",
	"blvd": "Boulevard",
	"pl":   "Place",
	"imp":  "Impasse",
	"all":  "Allée",
	"ch":   "Chemin",
	"che":  "Chemin",
	"rte":  "Route",
	"sq":   "Square",
	"crs":  "Cours",
	"fg":   "Faubourg",
	"fbg":  "Faubourg",
	"pass": "Passage",
	"res":  "Résidence",
	"rés":  "Résidence",
	"lot":  "Lotissement",
}

var streetTypes = map[string]string{
	"rue":         "Rue",
	"avenue":      "Avenue",
	"boulevard":   "Boulevard",
	"place":       "Place",
	"impasse":     "Impasse",
	"allée":       "Allée",
	"allee":       "Allée",
	"chemin":      "Chemin",
	"route":       "Route",
	"square":      "Square",
	"cours":       "Cours",
	"quai":        "Quai",
	"faubourg":    "Faubourg",
	"passage":     "Passage",
	"résidence":   "Résidence",
	"residence":   "Résidence",
	"lotissement": "Lotissement",
}
