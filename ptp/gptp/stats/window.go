/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"math"
	"sort"

	"github.com/eclesh/welford"
	"golang.org/x/exp/constraints"
)

// Number is any sample value we can keep in a Window
type Number interface {
	constraints.Integer | constraints.Float
}

// Window is a fixed size sliding window of the latest samples
type Window[T Number] struct {
	size    int
	samples []T
	next    int
	full    bool
}

// NewWindow returns a Window holding at most size samples
func NewWindow[T Number](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{
		size:    size,
		samples: make([]T, size),
	}
}

// Add puts a sample into the window, evicting the oldest one when full
func (w *Window[T]) Add(v T) {
	w.samples[w.next] = v
	w.next++
	if w.next == w.size {
		w.next = 0
		w.full = true
	}
}

// Len is the number of samples in the window
func (w *Window[T]) Len() int {
	if w.full {
		return w.size
	}
	return w.next
}

// Full reports whether window holds size samples
func (w *Window[T]) Full() bool {
	return w.full
}

// Last returns the most recent sample
func (w *Window[T]) Last() T {
	if w.Len() == 0 {
		return 0
	}
	i := w.next - 1
	if i < 0 {
		i = w.size - 1
	}
	return w.samples[i]
}

func (w *Window[T]) values() []T {
	return w.samples[:w.Len()]
}

func (w *Window[T]) welford() *welford.Stats {
	s := welford.New()
	for _, v := range w.values() {
		s.Add(float64(v))
	}
	return s
}

// Mean of samples in the window, NaN if empty
func (w *Window[T]) Mean() float64 {
	if w.Len() == 0 {
		return math.NaN()
	}
	return w.welford().Mean()
}

// Stddev of samples in the window, NaN if empty
func (w *Window[T]) Stddev() float64 {
	if w.Len() == 0 {
		return math.NaN()
	}
	return w.welford().Stddev()
}

// Median of samples in the window, NaN if empty
func (w *Window[T]) Median() float64 {
	l := w.Len()
	if l == 0 {
		return math.NaN()
	}
	c := make([]float64, 0, l)
	for _, v := range w.values() {
		c = append(c, float64(v))
	}
	sort.Float64s(c)
	if l%2 == 0 {
		return (c[l/2-1] + c[l/2]) / 2
	}
	return c[l/2]
}

// Summary is a point-in-time digest of a Window
type Summary struct {
	Last   float64 `json:"last"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
	Median float64 `json:"median"`
	Count  int     `json:"count"`
}

// Summary returns digest of the window. Statistics of an empty window are zero.
func (w *Window[T]) Summary() Summary {
	if w.Len() == 0 {
		return Summary{}
	}
	return Summary{
		Last:   float64(w.Last()),
		Mean:   w.Mean(),
		Stddev: w.Stddev(),
		Median: w.Median(),
		Count:  w.Len(),
	}
}
