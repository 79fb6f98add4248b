package rag

import "unicode"

const (
	averageWordLength = 6
	wordsPerMinute    = 250
)

// ReadingTime estimates minutes of reading from the count of letters.
func ReadingTime(text string) float64 {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return float64(letters) / averageWordLength / wordsPerMinute
}
