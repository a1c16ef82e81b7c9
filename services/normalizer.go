package services

import (
	"regexp"
	"strings"
)

// Muster für Datei-Metadaten, die Scraper an Organisationsnamen anhängen,
// z. B. "Naturvårdsverket (pdf 140 kB)" oder "Boverket 2.3 MB".
var (
	fileSizeParenRE = regexp.MustCompile(`(?i)\s*\((?:pdf|word|docx?)\s+\d+(?:[.,]\d+)?\s*(?:kB|KB|MB|mb|b|B)\)\s*$`)
	fileSizeBareRE  = regexp.MustCompile(`\s+\d+(?:[.,]\d+)?\s*(?:kB|KB|MB|mb|b|B)\s*$`)
	whitespaceRE    = regexp.MustCompile(`\s+`)
)

// CleanName normalisiert einen rohen Organisationsnamen: Whitespace-Läufe
// zu einzelnen Leerzeichen, Datei-Größen-Suffixe entfernen, trimmen.
// Pure Funktion, idempotent; leerer Input ergibt leeren Output.
// Muss vor jedem Similarity-Vergleich und jedem Regel-Lookup laufen.
func CleanName(raw string) string {
	s := whitespaceRE.ReplaceAllString(raw, " ")
	s = strings.TrimSpace(s)
	// Suffixe können gestapelt auftreten ("... (pdf 140 kB) (pdf 25 kB)"),
	// daher strippen bis Fixpunkt — das hält CleanName idempotent.
	for {
		stripped := fileSizeParenRE.ReplaceAllString(s, "")
		stripped = fileSizeBareRE.ReplaceAllString(stripped, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == s {
			return s
		}
		s = stripped
	}
}

// NameKey bildet den kleingeschriebenen Lookup-Schlüssel einer Normalform.
// Registry-Eindeutigkeit und Regel-Lookups laufen über diesen Schlüssel.
func NameKey(raw string) string {
	return strings.ToLower(CleanName(raw))
}
