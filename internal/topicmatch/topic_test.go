package topicmatch

import "testing"

func TestMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		{"test/topic", "test/topic", true},
		{"test/topic", "test/other", false},
		{"test/+", "test/topic", true},
		{"test/+", "test/topic/sub", false},
		{"+/topic", "test/topic", true},
		{"+/+", "test/topic", true},
		{"test/#", "test/topic", true},
		{"test/#", "test/topic/sub/deep", true},
		{"test/#", "other/topic", false},
		{"#", "any/topic/here", true},
		{"test/topic/#", "test/topic", true},
		{"+/+/#", "test/topic/sub/deep", true},

		// $SYS carve-out: a leading wildcard never matches a $-prefixed topic.
		{"#", "$SYS/broker/uptime", false},
		{"+/broker/uptime", "$SYS/broker/uptime", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"$SYS/+/uptime", "$SYS/broker/uptime", true},

		// a wildcard not in the first level still matches under $SYS.
		{"$SYS/broker/+", "$SYS/broker/uptime", true},
	}

	for _, tt := range tests {
		got := Matches(tt.filter, tt.topic)
		if got != tt.match {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.match)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"a/b/c", false},
		{"", true},
		{"a/+/c", true},
		{"a/#", true},
		{"$SYS/broker/uptime", false},
		{"a/b\x00c", true},
	}

	for _, tt := range tests {
		err := ValidateName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"a/b/c", false},
		{"", true},
		{"a/+/c", false},
		{"a/#", false},
		{"a/#/b", true},
		{"a/b#", true},
		{"a/+b", true},
		{"+/+/#", false},
	}

	for _, tt := range tests {
		err := ValidateFilter(tt.filter)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
		}
	}
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"$SYS/broker/uptime", true},
		{"$share/group/a/b", true},
		{"a/b/c", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsReserved(tt.topic); got != tt.want {
			t.Errorf("IsReserved(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}
