package domain

import (
	"fmt"
	"strings"
)

// Category groups tasks on the dashboard.
type Category string

const (
	CategoryBug           Category = "Bug"
	CategoryFeature       Category = "Feature"
	CategoryDocumentation Category = "Documentation"
	CategoryOther         Category = "Other"

	DefaultCategory = CategoryDocumentation
)

var categories = []Category{CategoryBug, CategoryFeature, CategoryDocumentation, CategoryOther}

// Categories lists the accepted categories in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory matches raw case-insensitively against the known categories.
// An empty input yields an empty category, meaning "not supplied".
func ParseCategory(raw string) (Category, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	for _, c := range categories {
		if strings.EqualFold(raw, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Priority is always held in the store's lowercase spelling.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"

	DefaultPriority = PriorityMedium
)

// ParsePriority lowercases raw before validating it, so "HIGH" and "High"
// both become PriorityHigh. An empty input yields an empty priority.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
}

// Display returns the upper-cased label used by the dashboard.
func (p Priority) Display() string {
	return strings.ToUpper(string(p))
}
