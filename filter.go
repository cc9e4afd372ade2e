// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"fmt"
	"strings"

	"github.com/woozymasta/pathrules"
)

// Filter restricts which records participate in check and unpack.
// It receives the record path in archive form and reports whether the
// record is selected.
type Filter func(path string) bool

// NewFilter compiles ordered include/exclude path rules into a Filter.
func NewFilter(rules []pathrules.Rule, opts pathrules.MatcherOptions) (Filter, error) {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := NormalizePath(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	if len(normalized) == 0 {
		return nil, nil
	}

	if opts.DefaultAction == pathrules.ActionUnknown {
		opts.DefaultAction = pathrules.ActionExclude
	}

	matcher, err := pathrules.NewMatcher(normalized, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidFilterRules, err)
	}

	return func(path string) bool {
		candidate := NormalizePath(path)
		if candidate == "" {
			return false
		}

		return matcher.Included(candidate, false)
	}, nil
}

// FilterPaths builds a Filter selecting the given paths: a record matches
// when its path equals one of the arguments or lies under one used as a
// directory prefix.
func FilterPaths(paths ...string) Filter {
	normalized := make([]string, 0, len(paths))
	for _, p := range paths {
		if np := NormalizePath(p); np != "" {
			normalized = append(normalized, np)
		}
	}

	if len(normalized) == 0 {
		return nil
	}

	return func(path string) bool {
		candidate := NormalizePath(path)
		for _, p := range normalized {
			if candidate == p || strings.HasPrefix(candidate, p+"/") {
				return true
			}
		}

		return false
	}
}
