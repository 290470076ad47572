// Package classify assigns a type to incoming mail from configured
// field/pattern rules, and tags mail belonging to known mailing lists.
package classify

import (
	"log/slog"
	"regexp"
	"strings"
)

// DefaultType is assigned when no configured rule matches.
const DefaultType = "mail"

// PatternEntry is one (field set, regex) pair of a rule. The entry
// matches when any of its fields contains a match for the regex.
type PatternEntry struct {
	Fields  []string `yaml:"fields"`
	Pattern string   `yaml:"pattern"`
}

// Rule is an ordered classifier entry. A rule matches only when all of
// its pattern entries match.
type Rule struct {
	Name     string         `yaml:"name"`
	Icon     string         `yaml:"icon"`
	Patterns []PatternEntry `yaml:"patterns"`
}

// MailingList tags messages whose address fields contain a substring.
type MailingList struct {
	Match       string `yaml:"match"`
	DisplayName string `yaml:"display_name"`
	Tag         string `yaml:"tag"`
}

// Fields holds the message fields available for matching.
type Fields struct {
	From    string
	To      string
	Cc      string
	Subject string
}

func (f Fields) value(name string) string {
	switch name {
	case "from":
		return f.From
	case "to":
		return f.To
	case "cc":
		return f.Cc
	case "subject":
		return f.Subject
	}
	return ""
}

// Classifier evaluates rules in configured order.
type Classifier struct {
	rules  []Rule
	lists  []MailingList
	logger *slog.Logger
}

// New creates a Classifier over the configured rules and mailing lists.
func New(rules []Rule, lists []MailingList, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{rules: rules, lists: lists, logger: logger}
}

// Classify returns the name of the first matching rule, or DefaultType
// when nothing matches. A rule literally named "mail" never wins
// explicitly since it is the fallthrough. A rule with a non-compiling
// regex is skipped; it never fails the caller.
func (c *Classifier) Classify(f Fields) string {
	for _, rule := range c.rules {
		if rule.Name == DefaultType {
			continue
		}
		if c.matches(rule, f) {
			return rule.Name
		}
	}
	return DefaultType
}

// matches reports whether every pattern entry of the rule matches.
func (c *Classifier) matches(rule Rule, f Fields) bool {
	if len(rule.Patterns) == 0 {
		return false
	}
	for _, entry := range rule.Patterns {
		re, err := regexp.Compile(entry.Pattern)
		if err != nil {
			c.logger.Warn("invalid classifier pattern, skipping rule",
				slog.String("rule", rule.Name),
				slog.String("pattern", entry.Pattern))
			return false
		}
		entryMatch := false
		for _, field := range entry.Fields {
			if re.MatchString(f.value(field)) {
				entryMatch = true
				break
			}
		}
		if !entryMatch {
			return false
		}
	}
	return true
}

// Tags returns a comma-separated tag list for every mailing list whose
// match substring occurs in the from, to or cc fields.
func (c *Classifier) Tags(f Fields) string {
	var tags []string
	for _, list := range c.lists {
		if list.Match == "" {
			continue
		}
		if strings.Contains(f.From, list.Match) ||
			strings.Contains(f.To, list.Match) ||
			strings.Contains(f.Cc, list.Match) {
			tags = append(tags, list.Tag)
		}
	}
	return strings.Join(tags, ",")
}
