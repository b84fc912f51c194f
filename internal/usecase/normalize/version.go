package normalize

import "strings"

const (
	VersionOriginal     = "vo"
	VersionSubtitled    = "vost"
	VersionDubbed       = "vf"
	VersionDubbedForHOH = "vfstf"
)

var versionAliases = map[string]string{
	"vo":                VersionOriginal,
	"version originale": VersionOriginal,
	"original":          VersionOriginal,
	"vost":              VersionSubtitled,
	"vostfr":            VersionSubtitled,
	"vo st":             VersionSubtitled,
	"vo stfr":           VersionSubtitled,
	"vost fr":           VersionSubtitled,
	"st":                VersionSubtitled,
	"sous titre":        VersionSubtitled,
	"subtitled":         VersionSubtitled,
	"vf":                VersionDubbed,
	"version francaise": VersionDubbed,
	"francais":          VersionDubbed,
	"dubbed":            VersionDubbed,
	"vfstf":             VersionDubbedForHOH,
	"vf stf":            VersionDubbedForHOH,
}

// Version приводит пометку версии к каноничному тегу. Незнакомые пометки
// сохраняются в свёрнутом виде и остаются отдельной идентичностью.
func Version(raw string) string {
	folded := Fold(raw)
	if folded == "" {
		return ""
	}
	if tag, ok := versionAliases[folded]; ok {
		return tag
	}
	return strings.ReplaceAll(folded, " ", "-")
}
