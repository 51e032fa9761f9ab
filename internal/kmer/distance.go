package kmer

import (
	"math"
	"sort"
)

// JaccardDistance calculates the Jaccard distance between the key sets of two
// tallies.
//
// Jaccard distance = 1 - (intersection / union)
func JaccardDistance(a, b Tally) float64 {
	intersection := 0
	for kmer := range a {
		if _, ok := b[kmer]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return 1.0 - float64(intersection)/float64(union)
}

// SharedKMers returns the k-mers present in both tallies, sorted.
func SharedKMers(a, b Tally) []string {
	result := make([]string, 0)
	for kmer := range a {
		if _, ok := b[kmer]; ok {
			result = append(result, kmer)
		}
	}
	sort.Strings(result)
	return result
}

// CosineDistance calculates the cosine distance between count vectors.
//
// Cosine distance = 1 - (dot product / (magnitude1 * magnitude2))
func CosineDistance(a, b Tally) float64 {
	var dotProduct, mag1, mag2 float64

	for kmer, n := range a {
		v1 := float64(n)
		dotProduct += v1 * float64(b[kmer])
		mag1 += v1 * v1
	}
	for _, n := range b {
		v2 := float64(n)
		mag2 += v2 * v2
	}

	if mag1 == 0 || mag2 == 0 {
		return 1.0
	}

	return 1.0 - dotProduct/(math.Sqrt(mag1)*math.Sqrt(mag2))
}

// EuclideanDistance calculates the Euclidean distance between count vectors.
func EuclideanDistance(a, b Tally) float64 {
	var sumSqDiff float64

	for kmer, n := range a {
		diff := float64(n) - float64(b[kmer])
		sumSqDiff += diff * diff
	}
	for kmer, n := range b {
		if _, ok := a[kmer]; ok {
			continue
		}
		v := float64(n)
		sumSqDiff += v * v
	}

	return math.Sqrt(sumSqDiff)
}
