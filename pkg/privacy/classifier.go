// Package privacy classifies query sensitivity for routing decisions.
// Classification is pure regex evaluation and never suspends.
package privacy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Level orders query sensitivity. PRIVATE and CONFIDENTIAL queries must not
// leave local rooms.
type Level string

const (
	LevelPublic       Level = "PUBLIC"
	LevelSensitive    Level = "SENSITIVE"
	LevelPrivate      Level = "PRIVATE"
	LevelConfidential Level = "CONFIDENTIAL"
)

var levelRank = map[Level]int{
	LevelPublic:       0,
	LevelSensitive:    1,
	LevelPrivate:      2,
	LevelConfidential: 3,
}

// Classification is the classifier's verdict for one query.
type Classification struct {
	Level           Level    `json:"level"`
	Categories      []string `json:"categories"`
	Confidence      float64  `json:"confidence"`
	ShouldStayLocal bool     `json:"should_stay_local"`
	Reason          string   `json:"reason"`
}

type category struct {
	name     string
	level    Level
	patterns []*regexp.Regexp
}

// Classifier matches queries against per-category pattern sets. Strict mode
// also pins SENSITIVE queries to local rooms.
type Classifier struct {
	categories []category
	strict     bool
}

// NewClassifier returns a classifier with the built-in category patterns.
func NewClassifier(strict bool) *Classifier {
	return &Classifier{strict: strict, categories: builtinCategories()}
}

func builtinCategories() []category {
	compile := func(patterns ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(patterns))
		for i, p := range patterns {
			out[i] = regexp.MustCompile(p)
		}
		return out
	}
	return []category{
		{name: "government_id", level: LevelConfidential, patterns: compile(
			`(?i)\bssn\b`,
			`\b\d{3}-\d{2}-\d{4}\b`,
			`(?i)\bsocial security\b`,
			`(?i)\bpassport (number|no\.?)\b`,
			`(?i)\bdriver'?s? licen[cs]e\b`,
		)},
		{name: "credentials", level: LevelConfidential, patterns: compile(
			`(?i)\bpassword\b`,
			`(?i)\bapi[_ ]?key\b`,
			`(?i)\bsecret[_ ]?(key|token)\b`,
			`(?i)\baccess token\b`,
			`(?i)\bprivate key\b`,
		)},
		{name: "financial", level: LevelPrivate, patterns: compile(
			`\b(?:\d[ -]?){13,16}\b`,
			`(?i)\bcredit card\b`,
			`(?i)\bbank account\b`,
			`(?i)\brouting number\b`,
			`(?i)\bmy (salary|income|net worth)\b`,
		)},
		{name: "medical", level: LevelPrivate, patterns: compile(
			`(?i)\bmy (diagnosis|prescription|medication|therapist|doctor)\b`,
			`(?i)\bmedical (record|history)\b`,
			`(?i)\bmental health\b`,
		)},
		{name: "contact_info", level: LevelSensitive, patterns: compile(
			`(?i)\bmy (phone number|email address|home address)\b`,
			`\b\d{3}[-.]\d{3}[-.]\d{4}\b`,
			`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
		)},
		{name: "location", level: LevelSensitive, patterns: compile(
			`(?i)\bmy (current location|whereabouts|home)\b`,
			`(?i)\bwhere i (live|work|am)\b`,
		)},
	}
}

// Classify tags the query. Confidence is min(0.95, 0.5 + 0.1 per match).
func (c *Classifier) Classify(query string) Classification {
	var (
		matched      []string
		totalMatches int
		level        = LevelPublic
	)

	for _, cat := range c.categories {
		hits := 0
		for _, re := range cat.patterns {
			hits += len(re.FindAllString(query, -1))
		}
		if hits == 0 {
			continue
		}
		totalMatches += hits
		matched = append(matched, cat.name)
		if levelRank[cat.level] > levelRank[level] {
			level = cat.level
		}
	}
	sort.Strings(matched)

	confidence := 0.5 + 0.1*float64(totalMatches)
	if confidence > 0.95 {
		confidence = 0.95
	}

	stayLocal := level == LevelPrivate || level == LevelConfidential
	if c.strict && level == LevelSensitive {
		stayLocal = true
	}

	reason := "no sensitive content detected"
	if len(matched) > 0 {
		reason = fmt.Sprintf("matched categories: %s", strings.Join(matched, ", "))
	}

	return Classification{
		Level:           level,
		Categories:      matched,
		Confidence:      confidence,
		ShouldStayLocal: stayLocal,
		Reason:          reason,
	}
}
