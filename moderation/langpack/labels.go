package langpack

// BenignLabel marks political speech that matched nothing harmful.
const BenignLabel = "BENIGN_POLITICAL_SPEECH"

// KnownLabels is the closed taxonomy a pack entry may emit. Entries with
// labels outside this set are ignored at match time rather than rejected at
// load, so a pack shipped against a newer taxonomy degrades instead of
// breaking the request path.
var KnownLabels = map[string]bool{
	"ETHNIC_CONTEMPT":     true,
	"INCITEMENT_VIOLENCE": true,
	"HARASSMENT_THREAT":   true,
	"DOGWHISTLE_WATCH":    true,
	"DISINFO_RISK":        true,
	BenignLabel:           true,
}

// HarmLabels is every known label except the benign marker, in sorted order.
var HarmLabels = []string{
	"DISINFO_RISK",
	"DOGWHISTLE_WATCH",
	"ETHNIC_CONTEMPT",
	"HARASSMENT_THREAT",
	"INCITEMENT_VIOLENCE",
}

// HighSeverityLabels must each clear the calibrated F1 gate before a pack
// can serve traffic.
var HighSeverityLabels = []string{
	"ETHNIC_CONTEMPT",
	"INCITEMENT_VIOLENCE",
	"HARASSMENT_THREAT",
}

func isHarmLabel(label string) bool {
	return KnownLabels[label] && label != BenignLabel
}
