package classify

import "testing"

func TestLane(t *testing.T) {
	c := NewKeywordClassifier()
	tests := []struct {
		text string
		want Lane
	}{
		{"Implement the signup API and deploy the backend", LaneDevelopment},
		{"Plan a newsletter campaign and social posts for the launch", LaneMarketing},
		{"Research competitor pricing and write up findings", LaneResearch},
		{"Think about things", LaneResearch},
		{"", LaneResearch},
	}
	for _, tt := range tests {
		if got := c.Lane(tt.text); got != tt.want {
			t.Errorf("Lane(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestRoute(t *testing.T) {
	c := NewKeywordClassifier()
	tests := []struct {
		text string
		want Route
	}{
		{"Build the landing page website", RouteExternal},
		{"Run an email campaign", RouteExternal},
		{"Schedule a meeting with the bank", RouteHuman},
		{"Get the signature on the partner contract", RouteHuman},
		{"Summarize customer feedback themes", RouteInternal},
		{"Analyze the survey results", RouteInternal},
	}
	for _, tt := range tests {
		if got := c.Route(tt.text); got != tt.want {
			t.Errorf("Route(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestRequiresVerification(t *testing.T) {
	c := NewKeywordClassifier()
	tests := []struct {
		title, desc string
		want        bool
	}{
		{"Implement billing", "", true},
		{"CRM cleanup", "dedupe contacts", true},
		{"Database migration", "", true},
		{"Write blog outline", "three sections", false},
		{"Implementation notes", "summarize", false},
	}
	for _, tt := range tests {
		if got := c.RequiresVerification(tt.title, tt.desc); got != tt.want {
			t.Errorf("RequiresVerification(%q, %q) = %v, want %v", tt.title, tt.desc, got, tt.want)
		}
	}
}

func TestCountMatches_WholeWords(t *testing.T) {
	if n := countMatches("apparel appraisal", []string{"app"}); n != 0 {
		t.Errorf("expected no partial-word matches, got %d", n)
	}
	if n := countMatches("new apps, old app", []string{"app"}); n != 1 {
		t.Errorf("expected one keyword match, got %d", n)
	}
	if n := countMatches("please set up the crm", []string{"set up", "crm"}); n != 2 {
		t.Errorf("expected phrase match, got %d", n)
	}
}
