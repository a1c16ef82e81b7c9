package services

import (
	"strings"
)

// Similarity berechnet einen Ähnlichkeits-Score in [0,1] zwischen zwei
// normalisierten, kleingeschriebenen Namen. Drei Stufen:
//  1. exakte Gleichheit -> 1.0
//  2. Containment (Abkürzung vs. volle Legalform) -> 0.8 + 0.2 * Längenverhältnis
//  3. Bigramm-Dice-Koeffizient als Fallback für echte Schreibvarianten
//
// Exakt- und Containment-Fälle sind bei Behördennamen häufig und würden
// von reinem N-Gramm-Overlap unterbewertet. Symmetrisch in beiden Argumenten.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		ratio := float64(len([]rune(shorter))) / float64(len([]rune(longer)))
		return 0.8 + 0.2*ratio
	}

	return diceCoefficient(bigrams(a), bigrams(b))
}

// bigrams liefert das Multiset der 2-Rune-Shingles eines Strings.
// Rune-basiert, damit å/ä/ö nicht in Byte-Hälften zerfallen.
func bigrams(s string) map[string]int {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	grams := make(map[string]int, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}

func diceCoefficient(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	totalA, totalB, overlap := 0, 0, 0
	for gram, n := range a {
		totalA += n
		if m, ok := b[gram]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	for _, n := range b {
		totalB += n
	}
	return 2.0 * float64(overlap) / float64(totalA+totalB)
}
