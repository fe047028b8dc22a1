// Package topicmatch implements component A: parsing and matching of
// MQTT topic names and topic filters, including the $SYS wildcard
// carve-out in 4.A ("a + or # at position 0 must not match topics
// starting with $").
package topicmatch

import (
	"strings"
	"unicode/utf8"

	"github.com/pyr33x/mqttd/pkg/er"
)

const (
	singleLevel = "+"
	multiLevel  = "#"
)

// SplitLevels splits a topic name or filter into its slash-delimited
// levels. Empty levels (leading/trailing slash, "a//b") are preserved
// — they are significant per §3.
func SplitLevels(s string) []string {
	return strings.Split(s, "/")
}

// ValidateName checks s as a publishable TopicName: non-empty, valid
// UTF-8, no null byte, no wildcard character.
func ValidateName(s string) error {
	if s == "" {
		return &er.Err{Context: "topicmatch.ValidateName", Message: er.ErrEmptyTopic}
	}
	if err := validateCommon(s); err != nil {
		return err
	}
	if strings.ContainsAny(s, singleLevel+multiLevel) {
		return &er.Err{Context: "topicmatch.ValidateName", Message: er.ErrWildcardsNotAllowedInPublish}
	}
	return nil
}

// ValidateFilter checks s as a TopicFilter: valid UTF-8, no null byte,
// and wildcard placement rules — "#" only as the final level, "+"
// occupying its level alone.
func ValidateFilter(s string) error {
	if s == "" {
		return &er.Err{Context: "topicmatch.ValidateFilter", Message: er.ErrEmptyTopicFilter}
	}
	if err := validateCommon(s); err != nil {
		return err
	}
	levels := SplitLevels(s)
	for i, level := range levels {
		switch {
		case level == multiLevel:
			if i != len(levels)-1 {
				return &er.Err{Context: "topicmatch.ValidateFilter", Message: er.ErrMultiLevelWildcardNotLast}
			}
		case strings.Contains(level, multiLevel):
			return &er.Err{Context: "topicmatch.ValidateFilter", Message: er.ErrMultiLevelWildcardNotAlone}
		case level == singleLevel:
			// fine, occupies its level alone
		case strings.Contains(level, singleLevel):
			return &er.Err{Context: "topicmatch.ValidateFilter", Message: er.ErrSingleLevelWildcardNotAlone}
		}
	}
	return nil
}

func validateCommon(s string) error {
	if !utf8.ValidString(s) {
		return &er.Err{Context: "topicmatch", Message: er.ErrInvalidUTF8Topic}
	}
	for _, r := range s {
		if r == 0 {
			return &er.Err{Context: "topicmatch", Message: er.ErrNullCharacterInTopic}
		}
	}
	return nil
}

// Matches reports whether name satisfies filter, applying the $SYS
// carve-out: a leading '+' or '#' never matches a name whose first
// level starts with '$'.
func Matches(filter, name string) bool {
	filterLevels := SplitLevels(filter)
	nameLevels := SplitLevels(name)

	if len(filterLevels) > 0 && len(nameLevels) > 0 {
		first := filterLevels[0]
		if (first == singleLevel || first == multiLevel) && strings.HasPrefix(nameLevels[0], "$") {
			return false
		}
	}

	return matchLevels(filterLevels, nameLevels)
}

func matchLevels(filter, name []string) bool {
	for i := 0; i < len(filter); i++ {
		level := filter[i]

		if level == multiLevel {
			return true // matches the remainder, including zero levels
		}

		if i >= len(name) {
			return false
		}

		if level != singleLevel && level != name[i] {
			return false
		}
	}

	return len(filter) == len(name)
}

// IsReserved reports whether name (or filter) begins with the
// reserved "$SYS" level — or more generally any "$"-prefixed level,
// per §3/§8: "$SYS/..." is reserved and not publishable by clients.
func IsReserved(topic string) bool {
	levels := SplitLevels(topic)
	return len(levels) > 0 && strings.HasPrefix(levels[0], "$")
}
