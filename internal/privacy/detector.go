// Package privacy implements the four-tier privacy classifier (C2): a pure,
// deterministic function from (content, tags) to a PrivacyLevel.
package privacy

import (
	"regexp"
	"strings"

	"github.com/memcortex/fabric/internal/types"
)

// localOnlyPatterns mirrors the original detector's ordered pattern list.
// Index 12 (the bare credit-card digit pattern) is intentionally skipped in
// Detect's content loop because it is validated separately via Luhn first —
// this is the exact rule that removes the false-positive source the
// original's comment calls out.
var localOnlyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*["']?[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)token\s*[:=]\s*["']?[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`AIza[0-9A-Za-z\\\-_]{35}`),
	regexp.MustCompile(`(?i)password\s*[:=]\s*["']?[^\s"']{8,}`),
	regexp.MustCompile(`(?i)passwd\s*[:=]\s*["']?[^\s"']{8,}`),
	regexp.MustCompile(`(?i)secret\s*[:=]\s*["']?[^\s"']{8,}`),
	regexp.MustCompile(`(?i)credentials?\s*[:=]`),
	regexp.MustCompile(`(?i)auth_token\s*[:=]`),
	regexp.MustCompile(`-----BEGIN (RSA|DSA|EC|OPENSSH|PGP) PRIVATE KEY-----`),
	regexp.MustCompile(`BEGIN PRIVATE KEY`),
	// index 12 — bare 16-digit grouping, handled via Luhn in checkLocalOnly.
	regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
	regexp.MustCompile(`(?i)postgres://\S+`),
	regexp.MustCompile(`(?i)mysql://\S+`),
	regexp.MustCompile(`(?i)mongodb://\S+`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{9}\b`),
	regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
	regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.]?\d{4}`),
	regexp.MustCompile(`(?i)email\s*[:=]\s*["']?[^\s@]+@[^\s@]+\.[^\s@"']+`),
}

const creditCardPatternIndex = 13

var creditCardPattern = regexp.MustCompile(`\b(\d{4})[- ]?(\d{4})[- ]?(\d{4})[- ]?(\d{4})\b`)

var confidentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(bank\s+account|routing\s+number|account\s+number)\b`),
	regexp.MustCompile(`(?i)\b(investment|portfolio|401k|ira|stocks|bonds)\b`),
	regexp.MustCompile(`\$\d{1,3}(,\d{3})*(\.\d{2})?`),
	regexp.MustCompile(`(?i)\b(medical|health|diagnosis|prescription|doctor|patient)\b`),
	regexp.MustCompile(`(?i)\b(blood\s+pressure|cholesterol|glucose|medication)\b`),
	regexp.MustCompile(`(?i)\b(passport|driver'?s?\s+license|license\s+number)\b`),
	regexp.MustCompile(`(?i)\bdate\s+of\s+birth\b`),
	regexp.MustCompile(`(?i)\b(attorney|lawyer|legal|lawsuit|settlement)\b`),
}

var docIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#\s+`),
	regexp.MustCompile("```"),
	regexp.MustCompile(`(?m)## \w+`),
	regexp.MustCompile(`(?m)### \w+`),
	regexp.MustCompile(`\bREADME\b`),
	regexp.MustCompile(`\bTutorial\b`),
	regexp.MustCompile(`\bGuide\b`),
}

var localOnlyTags = newSet("password", "credential", "api-key", "secret", "private-key",
	"ssh-key", "token", "auth", "api_key", "secrets", "keys")

var confidentialTags = newSet("financial", "investment", "bank", "medical", "health",
	"personal", "confidential", "sensitive", "private", "legal", "attorney", "patient", "diagnosis")

var publicTags = newSet("documentation", "tutorial", "guide", "public", "docs",
	"readme", "how-to", "example", "demo", "reference")

func newSet(items ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func tagsIntersect(tags map[string]struct{}, set map[string]struct{}) bool {
	for t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Detect classifies content and tags into one of the four privacy levels.
// Rules apply in priority order: LOCAL_ONLY, CONFIDENTIAL, PUBLIC, then the
// caller-supplied default (INTERNAL unless overridden).
func Detect(content string, tags []string, defaultLevel types.PrivacyLevel) types.PrivacyLevel {
	if content == "" {
		return defaultLevel
	}
	tagsLower := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagsLower[strings.ToLower(t)] = struct{}{}
	}

	if checkLocalOnly(content, tagsLower) {
		return types.PrivacyLocalOnly
	}
	if checkConfidential(content, tagsLower) {
		return types.PrivacyConfidential
	}
	if checkPublic(content, tagsLower) {
		return types.PrivacyPublic
	}
	return defaultLevel
}

func checkLocalOnly(content string, tagsLower map[string]struct{}) bool {
	if tagsIntersect(tagsLower, localOnlyTags) {
		return true
	}

	// Validate credit cards with Luhn first; this is what lets the bare
	// digit-grouping pattern (index 13) be skipped below without losing
	// detection of real card numbers.
	for _, match := range creditCardPattern.FindAllStringSubmatch(content, -1) {
		cardNumber := strings.Join(match[1:], "")
		if len(cardNumber) == 16 && luhnValid(cardNumber) {
			return true
		}
	}

	for i, pattern := range localOnlyPatterns {
		if i == creditCardPatternIndex {
			continue
		}
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

func checkConfidential(content string, tagsLower map[string]struct{}) bool {
	if tagsIntersect(tagsLower, confidentialTags) {
		return true
	}
	for _, pattern := range confidentialPatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

func checkPublic(content string, tagsLower map[string]struct{}) bool {
	if tagsIntersect(tagsLower, publicTags) {
		return true
	}
	count := 0
	for _, ind := range docIndicators {
		if ind.MatchString(content) {
			count++
		}
	}
	return count >= 2
}

// luhnValid reports whether the given digit string passes the Luhn
// checksum, used to validate candidate 16-digit credit card numbers.
func luhnValid(digits string) bool {
	sum := 0
	parity := len(digits) % 2
	for i, r := range digits {
		d := int(r - '0')
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// Validate reports whether level is one of the four declared privacy levels.
func Validate(level types.PrivacyLevel) bool { return level.Valid() }
