// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scan

import "math"

// Entropy returns the Shannon entropy of data in bits per byte, in [0, 8].
// An empty buffer has entropy 0.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}

	// Rounding can push a single-symbol buffer a hair below zero.
	if h < 0 {
		return 0
	}
	if h > 8 {
		return 8
	}
	return h
}
