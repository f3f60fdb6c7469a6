package identity

import (
	"testing"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/github"
)

func TestResolver_Resolve(t *testing.T) {
	directory := []bonusly.User{
		{ID: "1", FullName: "Jane Doe", DisplayName: "Jane Doe", Email: "jane@co.example"},
		{ID: "2", FullName: "Matthew Smith", DisplayName: "Matthew Smith", Email: "matthew@co.example"},
		{ID: "3", FullName: "Robert Roe", DisplayName: "Bobby", Email: "bob@co.example"},
		{ID: "4", FullName: "", DisplayName: "Ghost", Email: "ghost@co.example"},
	}

	resolver := Resolver{
		Overrides:   map[string]string{"jdoe-alt": "jane.override@co.example"},
		EmailDomain: "co.example",
	}

	tests := []struct {
		name      string
		member    github.Member
		wantEmail string
		wantRule  Rule
		wantOK    bool
	}{
		{
			name:      "override wins over exact match",
			member:    github.Member{Login: "jdoe-alt", Name: "Jane Doe"},
			wantEmail: "jane.override@co.example",
			wantRule:  RuleOverride,
			wantOK:    true,
		},
		{
			name:      "domain email used directly",
			member:    github.Member{Login: "someone", Email: "Someone@CO.example", Name: "Jane Doe"},
			wantEmail: "Someone@CO.example",
			wantRule:  RuleDomain,
			wantOK:    true,
		},
		{
			name:      "foreign domain falls through to name",
			member:    github.Member{Login: "jdoe", Email: "jane@gmail.com", Name: "Jane Doe"},
			wantEmail: "jane@co.example",
			wantRule:  RuleExact,
			wantOK:    true,
		},
		{
			name:      "display name match",
			member:    github.Member{Login: "bobby", Name: "Bobby"},
			wantEmail: "bob@co.example",
			wantRule:  RuleExact,
			wantOK:    true,
		},
		{
			name:      "prefix match with parenthetical",
			member:    github.Member{Login: "jdoe", Name: "Jane Doe (jdoe)"},
			wantEmail: "jane@co.example",
			wantRule:  RulePrefix,
			wantOK:    true,
		},
		{
			name:      "alias substitution",
			member:    github.Member{Login: "msmith", Name: "Matt Smith"},
			wantEmail: "matthew@co.example",
			wantRule:  RuleAlias,
			wantOK:    true,
		},
		{
			name:     "empty display name",
			member:   github.Member{Login: "anon"},
			wantRule: RuleNone,
		},
		{
			name:     "empty full name never prefix matches",
			member:   github.Member{Login: "x", Name: "Someone Else"},
			wantRule: RuleNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, rule, ok := resolver.Resolve(tt.member, directory)
			if email != tt.wantEmail || rule != tt.wantRule || ok != tt.wantOK {
				t.Errorf("Resolve(%+v) = %q, %q, %t, want %q, %q, %t",
					tt.member, email, rule, ok, tt.wantEmail, tt.wantRule, tt.wantOK)
			}
		})
	}
}

func TestResolver_PrefixScenario(t *testing.T) {
	directory := []bonusly.User{{FullName: "Jane Doe", Email: "jane@co.example"}}
	member := github.Member{Login: "jdoe", Name: "Jane Doe (jdoe)"}

	email, _, ok := Resolver{EmailDomain: "co.example"}.Resolve(member, directory)
	if !ok || email != "jane@co.example" {
		t.Errorf("Resolve() = %q, %t, want jane@co.example", email, ok)
	}
}

func TestResolver_OverrideWithEmptyDirectory(t *testing.T) {
	resolver := Resolver{Overrides: map[string]string{"jdoe": "jane.override@co.example"}}

	email, rule, ok := resolver.Resolve(github.Member{Login: "jdoe"}, nil)
	if !ok || email != "jane.override@co.example" || rule != RuleOverride {
		t.Errorf("Resolve() = %q, %q, %t, want override email", email, rule, ok)
	}
}

func TestResolver_ExactBeatsEarlierPrefix(t *testing.T) {
	// A prefix candidate listed first must not shadow an exact match later in the directory.
	directory := []bonusly.User{
		{FullName: "Jane", Email: "short@co.example"},
		{FullName: "Jane Doe", Email: "jane@co.example"},
	}

	email, rule, _ := Resolver{}.Resolve(github.Member{Login: "jdoe", Name: "Jane Doe"}, directory)
	if email != "jane@co.example" || rule != RuleExact {
		t.Errorf("Resolve() = %q, %q, want exact match jane@co.example", email, rule)
	}
}

func TestResolver_Deterministic(t *testing.T) {
	directory := []bonusly.User{
		{FullName: "Jane Doe", Email: "jane@co.example"},
		{FullName: "Jane Doe", Email: "jane2@co.example"},
	}
	resolver := Resolver{EmailDomain: "co.example"}
	member := github.Member{Login: "jdoe", Name: "Jane Doe"}

	first, firstRule, firstOK := resolver.Resolve(member, directory)
	for range 5 {
		email, rule, ok := resolver.Resolve(member, directory)
		if email != first || rule != firstRule || ok != firstOK {
			t.Fatalf("Resolve() changed between calls: %q/%q/%t vs %q/%q/%t", email, rule, ok, first, firstRule, firstOK)
		}
	}
	if first != "jane@co.example" {
		t.Errorf("Resolve() = %q, want first directory match", first)
	}
}

func TestResolver_NoDomainConfigured(t *testing.T) {
	email, _, ok := Resolver{}.Resolve(github.Member{Login: "a", Email: "a@co.example"}, nil)
	if ok {
		t.Errorf("Resolve() = %q, want no match without a configured domain", email)
	}
}

func TestResolver_UnicodeNormalization(t *testing.T) {
	// Directory stores the precomposed form; the profile uses a combining accent.
	directory := []bonusly.User{{FullName: "Jos\u00e9 Garc\u00eda", Email: "jose@co.example"}}
	member := github.Member{Login: "jgarcia", Name: "Jose\u0301 Garci\u0301a"}

	email, rule, ok := Resolver{}.Resolve(member, directory)
	if !ok || email != "jose@co.example" || rule != RuleExact {
		t.Errorf("Resolve() = %q, %q, %t, want exact match jose@co.example", email, rule, ok)
	}

	// Case still matters.
	if _, _, ok := (Resolver{}).Resolve(github.Member{Login: "x", Name: "jos\u00e9 garc\u00eda"}, directory); ok {
		t.Error("Resolve() matched a name that differs only in case")
	}
}

func TestResolver_AliasOnlySwapsWholeFirstName(t *testing.T) {
	directory := []bonusly.User{
		{FullName: "Matthews Smith", Email: "matthews@co.example"},
		{FullName: "Ann Matthew", Email: "ann@co.example"},
		{FullName: "Matthew Matthewson", Email: "mm@co.example"},
	}
	resolver := Resolver{EmailDomain: "co.example"}

	tests := []struct {
		name      string
		display   string
		wantEmail string
		wantOK    bool
	}{
		{name: "formal name is only a prefix of the first word", display: "Matts Smith"},
		{name: "formal name is the surname", display: "Ann Matt"},
		{name: "only the first word is swapped", display: "Matt Matthewson", wantEmail: "mm@co.example", wantOK: true},
		{name: "every occurrence swapped", display: "Matt Mattson"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, rule, ok := resolver.Resolve(github.Member{Login: "x", Name: tt.display}, directory)
			if email != tt.wantEmail || ok != tt.wantOK {
				t.Errorf("Resolve(%q) = %q, %q, %t, want %q, %t", tt.display, email, rule, ok, tt.wantEmail, tt.wantOK)
			}
			if ok && rule != RuleAlias {
				t.Errorf("Resolve(%q) rule = %q, want %q", tt.display, rule, RuleAlias)
			}
		})
	}
}
