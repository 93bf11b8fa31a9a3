package catalog

import "github.com/okian/noticeledger/internal/domain/model"

// Shared key-value patterns.
const (
	noticeDatePattern = `NOTICE_DATE:\s*(\w{3})\s*(\d{1,2})\s*(\w{3})\s*(\d{2})\s*(\d{2}):(\d{2}):(\d{2}(?:\.\d+)?)\s*UT`
	triggerNumPattern = `TRIGGER_NUM:\s*(\d+)`
	eventNumPattern   = `EVENT_NUM:\s*(\d+)`
	retractionPattern = `RETRACTION:\s*(\d)`

	upperAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlphabet = "abcdefghijklmnopqrstuvwxyz"
)

// Built-in prefix names.
const (
	PrefixGRB     = "GRB"
	PrefixEP      = "EP"
	PrefixIceCube = "IceCube"
)

// CircularsTopic carries GCN circulars as JSON with subject and body members.
const CircularsTopic = "gcn.circulars"

// Default returns the compiled built-in catalog.
func Default() *Catalog {
	c := defaultCatalog()
	if err := c.Compile(); err != nil {
		panic("built-in catalog: " + err.Error())
	}
	return c
}

func defaultCatalog() *Catalog {
	return &Catalog{
		Epoch:            "J2000",
		SupersededEpochs: []string{"current", "1950", "B1950"},
		FalseTriggerPhrases: []string{
			`\bnot\s+(?:a|due\s+to\s+a)\s+GRB\b`,
			`\bfalse\s+(?:trigger|alarm|positive)\b`,
			`\bnot\s+(?:of\s+)?astrophysical\b`,
		},
		DefaultPrefix: PrefixGRB,
		Prefixes: []Prefix{
			{Name: PrefixGRB, Alphabet: upperAlphabet, Template: "GRB {day}{letter}"},
			{Name: PrefixEP, Alphabet: lowerAlphabet, Template: "EP {day}{letter}"},
			{Name: PrefixIceCube, Alphabet: upperAlphabet, Template: "IceCube-{day}{letter}"},
		},
		Facilities: []Facility{
			swift("SwiftUVOT", 12, "SWIFT_UVOT_POS"),
			swift("SwiftXRT", 10, "SWIFT_XRT_POSITION"),
			swift("SwiftBAT", 7, "SWIFT_BAT_GRB_POS_ACK"),
			fermi("FermiLAT", 6, "FERMI_LAT_OFFLINE"),
			fermi("FermiGBM", 3, "FERMI_GBM_GND_POS", "FERMI_GBM_FIN_POS", "FERMI_GBM_FLT_POS"),
			amon("IceCubeGOLD", 5, "ICECUBE_ASTROTRACK_GOLD", true,
				Rule{Field: "energy", Pattern: `ENERGY:\s*([\d.]+e[+-]?\d+)\s*\[TeV\]`},
				Rule{Field: "signalness", Pattern: `SIGNALNESS:\s*([\d.]+e[+-]?\d+)\s*\[dn\]`},
				Rule{Field: "far", Pattern: `FAR:\s*([\d.]+)\s*\[yr\^-1\]`},
			),
			amon("IceCubeBRONZE", 4, "ICECUBE_ASTROTRACK_BRONZE", true,
				Rule{Field: "energy", Pattern: `ENERGY:\s*([\d.]+e[+-]?\d+)\s*\[TeV\]`},
				Rule{Field: "signalness", Pattern: `SIGNALNESS:\s*([\d.]+e[+-]?\d+)\s*\[dn\]`},
				Rule{Field: "far", Pattern: `FAR:\s*([\d.]+)\s*\[yr\^-1\]`},
			),
			withNameField(amon("IceCubeCASCADE", 4, "ICECUBE_CASCADE", true,
				Rule{Field: "energy", Pattern: `ENERGY:\s*([\d.]+)\s*\[TeV\]`},
				Rule{Field: "signalness", Pattern: `SIGNALNESS:\s*([\d.]+e[+-]?\d+)\s*\[dn\]`},
				Rule{Field: "far", Pattern: `FAR:\s*([\d.]+)\s*\[yr\^-1\]`},
				Rule{Field: "event_name", Pattern: `EVENT_NAME:\s*(IceCubeCascade-\w+)`},
			), "event_name"),
			amon("AMON", 4, "AMON_NU_EM_COINC", true,
				Rule{Field: "coinc_pair", Pattern: `COINC_PAIR:\s*\d+\s+(\S+)`},
				Rule{Field: "delta_t", Pattern: `DELTA_T:\s*([\d.]+)`},
			),
			amon("HAWC", 3, "HAWC_BURST_MONITOR", false),
			calet(),
			einsteinProbe(),
			circulars(),
		},
	}
}

func swift(name string, priority int, topic string) Facility {
	return Facility{
		Name:     name,
		Family:   "Swift",
		Priority: priority,
		Prefix:   PrefixGRB,
		Format:   model.FormatKeyValue,
		Topics:   []string{topic},
		Rules: []Rule{
			{Field: FieldNoticeDate, Pattern: noticeDatePattern, Required: true},
			{Field: FieldTriggerID, Pattern: triggerNumPattern, Required: true},
			{Field: FieldDate, Pattern: `(?s)(?:GRB_DATE|IMG_START_DATE):.*?(\d{2})/(\d{2})/(\d{2})`, Required: true},
			{Field: FieldTime, Pattern: `(?:GRB_TIME|IMG_START_TIME):\s*(?:[\d.]+)\s*(?:SOD)?\s*\{([^}]+)\}`, Required: true},
			{Field: FieldRA, Pattern: `(?s)GRB_RA:.*?([-+]?\d+\.\d+)d?\s*\{[^}]+\}\s*\({epoch}\)`, Required: true},
			{Field: FieldDec, Pattern: `(?s)GRB_DEC:.*?([-+]?\d+\.\d+)d?\s*\{[^}]+\}\s*\({epoch}\)`, Required: true},
			{Field: FieldError, Pattern: `GRB_ERROR:\s*([\d.]+)\s*\[(\w+)`, Required: true},
			{Field: "retraction", Pattern: retractionPattern},
		},
		RetractWhen: `fields.retraction == "1"`,
	}
}

func fermi(name string, priority int, topics ...string) Facility {
	return Facility{
		Name:     name,
		Family:   "Fermi",
		Priority: priority,
		Prefix:   PrefixGRB,
		Format:   model.FormatKeyValue,
		Topics:   topics,
		Rules: []Rule{
			{Field: FieldNoticeDate, Pattern: noticeDatePattern, Required: true},
			{Field: FieldTriggerID, Pattern: triggerNumPattern, Required: true},
			{Field: FieldDate, Pattern: `(?s)GRB_DATE:.*?(\d{2})/(\d{2})/(\d{2})`, Required: true},
			{Field: FieldTime, Pattern: `(?s)GRB_TIME:.*?\{([\d:.]+)\}\s*UT`, Required: true},
			{Field: FieldRA, Pattern: `(?s)GRB_RA:.*?([-+]?\d+\.\d+)d.*?\({epoch}\)`, Required: true},
			{Field: FieldDec, Pattern: `(?s)GRB_DEC:.*?([-+]?\d+\.\d+)d.*?\({epoch}\)`, Required: true},
			{Field: FieldError, Pattern: `GRB_ERROR:\s*([\d.]+)\s*\[(\w+)`, Required: true},
			{Field: "retraction", Pattern: retractionPattern},
		},
		RetractWhen: `fields.retraction == "1"`,
	}
}

// amon covers the AMON/IceCube/HAWC key-value layout.
func amon(name string, priority int, topic string, discovery bool, extra ...Rule) Facility {
	rules := []Rule{
		{Field: FieldNoticeDate, Pattern: noticeDatePattern, Required: true},
		{Field: FieldTriggerID, Pattern: eventNumPattern, Required: true},
		{Field: FieldRA, Pattern: `(?s)SRC_RA:.*?(\d+\.\d+)d?.*?\({epoch}\)`, Required: true},
		{Field: FieldDec, Pattern: `(?s)SRC_DEC:.*?([-+]?\d+\.\d+)d?.*?\({epoch}\)`, Required: true},
		{Field: FieldError, Pattern: `(?s)SRC_ERROR:.*?([\d.]+)\s*\[(\w+)`, Required: true},
	}
	if discovery {
		rules = append(rules,
			Rule{Field: FieldDate, Pattern: `(?s)DISCOVERY_DATE:.*?(\d{2})/(\d{2})/(\d{2})`, Required: true},
			Rule{Field: FieldTime, Pattern: `(?s)DISCOVERY_TIME:.*?\{([\d:.]+)\}\s*UT`, Required: true},
		)
	}
	rules = append(rules, extra...)

	f := Facility{
		Name:     name,
		Family:   "IceCube",
		Priority: priority,
		Prefix:   PrefixIceCube,
		Format:   model.FormatKeyValue,
		Topics:   []string{topic},
		Rules:    rules,
	}
	if name == "HAWC" {
		f.Family = "HAWC"
		f.Prefix = PrefixGRB
	}
	return f
}

func withNameField(f Facility, field string) Facility { //nolint:gocritic // hugeParam: builder over values
	f.NameField = field
	return f
}

func calet() Facility {
	zero := 0.0
	return Facility{
		Name:     "CALET",
		Priority: 1,
		Prefix:   PrefixGRB,
		Format:   model.FormatKeyValue,
		Topics:   []string{"CALET_GBM_FLT_LC"},
		Rules: []Rule{
			{Field: FieldNoticeDate, Pattern: noticeDatePattern, Required: true},
			{Field: FieldTriggerID, Pattern: triggerNumPattern, Required: true},
			{Field: FieldDate, Pattern: `(?s)TRIGGER_DATE:.*?(\d{2})/(\d{2})/(\d{2})`, Required: true},
			{Field: FieldTime, Pattern: `(?s)TRIGGER_TIME:.*?\{([\d:.]+)\}\s*UT`, Required: true},
			{Field: FieldRA, Pattern: `(?s)POINT_RA:.*?(\d+\.\d+)d?.*?\({epoch}\)`, Required: true},
			{Field: FieldDec, Pattern: `(?s)POINT_DEC:.*?([-+]?\d+\.\d+)d?.*?\({epoch}\)`, Required: true},
		},
		ErrorUnit:    model.UnitDegree,
		DefaultError: &zero,
	}
}

func einsteinProbe() Facility {
	return Facility{
		Name:      "EinsteinProbe",
		Family:    "EinsteinProbe",
		Priority:  9,
		Prefix:    PrefixEP,
		Format:    model.FormatJSON,
		Topics:    []string{"einstein_probe"},
		ErrorUnit: model.UnitDegree,
		Rules: []Rule{
			{Field: FieldTriggerID, Path: "id[0]", Required: true},
			{Field: FieldDiscovery, Path: "trigger_time", Required: true},
			{Field: FieldRA, Path: "ra", Required: true},
			{Field: FieldDec, Path: "dec", Required: true},
			{Field: FieldError, Path: "ra_dec_error"},
		},
	}
}

// circulars mines follow-up circulars for redshift and host galaxy reports. It
// carries no position and joins Swift identities by the trigger number quoted
// in the body.
func circulars() Facility {
	const number = `(\d+(?:\.\d+)?)`
	return Facility{
		Name:     "Circulars",
		Family:   "Swift",
		Priority: 0,
		Prefix:   PrefixGRB,
		Format:   model.FormatJSON,
		Topics:   []string{CircularsTopic},
		Rules: []Rule{
			{Field: FieldTriggerID, Path: "body", Pattern: `(?i)\bSwift\s+trigger\s+#?(\d+)`, Required: true},
			{Field: FieldTriggerID, Path: "body", Pattern: `(?i)\bBAT\s+trigger\s+#?(\d+)`},
			{Field: FieldTriggerID, Path: "body", Pattern: `(?i)\btrigger\s*=\s*(\d+)`},
			{Field: FieldRedshift, Path: "body", Pattern: `(?i)\bredshift\s*(?:=|of)\s*` + number},
			{Field: FieldRedshift, Path: "body", Pattern: `\bz\s*=\s*` + number},
			{Field: FieldRedshift, Path: "body", Pattern: `(?is)spectroscopic\s+redshift.*?(?:of|=)\s*` + number},
			{Field: FieldHostInfo, Path: "body", Pattern: `(?i)([^.;]*\bhost\s+galaxy[^.;]*)`},
			{Field: "event_name", Path: "subject", Pattern: `\b((?:GRB|EP)\s*\d{6}[A-Za-z]+)`},
			{Field: "circular_id", Path: "circularId"},
		},
		RetractWhen: `text matches "(?i)\\bretraction\\b"`,
	}
}
