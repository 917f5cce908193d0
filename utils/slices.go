//
// Copyright 2019-2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package utils holds small generic slice helpers shared by the rest of
// the module (e.g. the duplicate-slot check in a bootstrap manifest).
package utils

// Contains returns true if x is in s.
func Contains[T comparable](s []T, x T) bool {
	for _, v := range s {
		if v == x {
			return true
		}
	}
	return false
}

// Equal compares two slices element-wise.
func Equal[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// Remove returns s with any elements that also occur in db removed.
func Remove[T comparable](s, db []T) []T {
	var r []T
	for _, e := range s {
		if !Contains(db, e) {
			r = append(r, e)
		}
	}
	return r
}

// RemoveMatch returns s with any elements for which match returns true
// removed.
func RemoveMatch[T any](s []T, match func(T) bool) []T {
	var r []T
	for _, e := range s {
		if !match(e) {
			r = append(r, e)
		}
	}
	return r
}

// Uniquify removes duplicate elements from s, preserving order of first
// occurrence.
func Uniquify[T comparable](s []T) []T {
	seen := make(map[T]bool, len(s))
	result := make([]T, 0, len(s))
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

// Duplicates returns every occurrence in s of an element already seen
// earlier, in order: an element that occurs k times appears k-1 times in
// the result.
func Duplicates[T comparable](s []T) []T {
	seen := make(map[T]bool, len(s))
	var dups []T
	for _, v := range s {
		if seen[v] {
			dups = append(dups, v)
			continue
		}
		seen[v] = true
	}
	return dups
}
