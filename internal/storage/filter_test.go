package storage

import "testing"

func TestFilterMatches(t *testing.T) {
	payload := map[string]any{
		"name":     "weekly report",
		"status":   "PENDING",
		"priority": 7,
		"tags":     []any{"reports", "weekly"},
		"metadata": map[string]any{
			"agentId": map[string]any{"namespace": "agent", "id": "agent-1"},
		},
	}

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"match value", &Filter{Must: []Condition{MatchValue("status", "PENDING")}}, true},
		{"match value miss", &Filter{Must: []Condition{MatchValue("status", "RUNNING")}}, false},
		{"match any", &Filter{Must: []Condition{MatchAny("status", "RUNNING", "PENDING")}}, true},
		{"match any miss", &Filter{Must: []Condition{MatchAny("status", "RUNNING", "FAILED")}}, false},
		{"numeric equality across types", &Filter{Must: []Condition{MatchValue("priority", float64(7))}}, true},
		{"range inclusive", &Filter{Must: []Condition{NumRange("priority", Float(7), Float(7))}}, true},
		{"range below", &Filter{Must: []Condition{NumRange("priority", Float(8), nil)}}, false},
		{"range above", &Filter{Must: []Condition{NumRange("priority", nil, Float(6))}}, false},
		{"text contains", &Filter{Must: []Condition{TextContains("name", "REPORT")}}, true},
		{"text contains miss", &Filter{Must: []Condition{TextContains("name", "invoice")}}, false},
		{"dotted path", &Filter{Must: []Condition{MatchValue("metadata.agentId.id", "agent-1")}}, true},
		{"dotted path miss", &Filter{Must: []Condition{MatchValue("metadata.agentId.id", "agent-2")}}, false},
		{"array membership", &Filter{Must: []Condition{MatchValue("tags", "weekly")}}, true},
		{"array membership miss", &Filter{Must: []Condition{MatchValue("tags", "daily")}}, false},
		{"has_id", &Filter{Must: []Condition{HasIDs("p1", "p2")}}, true},
		{"has_id miss", &Filter{Must: []Condition{HasIDs("p9")}}, false},
		{"must_not excludes", &Filter{MustNot: []Condition{MatchValue("status", "PENDING")}}, false},
		{"must_not passes", &Filter{MustNot: []Condition{MatchValue("status", "FAILED")}}, true},
		{"missing key", &Filter{Must: []Condition{MatchValue("nope", "x")}}, false},
		{
			"conjunction",
			&Filter{Must: []Condition{
				MatchValue("status", "PENDING"),
				NumRange("priority", Float(5), nil),
			}},
			true,
		},
	}

	for _, tt := range tests {
		if got := tt.filter.Matches("p1", payload); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}
