// Package identity maps GitHub profiles to Bonusly email addresses.
package identity

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/github"
)

// Rule names the resolution tier that produced a match.
type Rule string

// Resolution tiers, in precedence order.
const (
	RuleNone     Rule = ""
	RuleOverride Rule = "override"
	RuleDomain   Rule = "domain"
	RuleExact    Rule = "exact_name"
	RulePrefix   Rule = "prefix_name"
	RuleAlias    Rule = "alias_name"
)

// alias is a formal first name and the short form people use on GitHub.
type alias struct {
	formal string
	short  string
}

// nameAliases is intentionally tiny; extend only with confirmed pairs.
var nameAliases = []alias{
	{formal: "Matthew", short: "Matt"},
}

// Resolver holds the configuration that resolution depends on.
type Resolver struct {
	// Overrides maps GitHub login to email and wins over every other rule.
	Overrides map[string]string
	// EmailDomain is the organization's mail domain, without '@'.
	EmailDomain string
}

// Resolve returns the Bonusly email for member. It is deterministic and never fails;
// ok is false when nothing matched.
//
// Tiers, first match wins:
//  1. explicit override by login
//  2. profile email in the organization's domain
//  3. display name equals a directory full or display name
//  4. display name starts with a directory full name ("Jane Doe (jdoe)")
//  5. display name equals a directory full name after alias substitution of the first name
//
// Names are compared after NFC normalization and are otherwise case and space sensitive.
func (r Resolver) Resolve(member github.Member, directory []bonusly.User) (email string, rule Rule, ok bool) {
	if email, found := r.Overrides[member.Login]; found {
		return email, RuleOverride, true
	}

	if r.inDomain(member.Email) {
		return member.Email, RuleDomain, true
	}

	name := norm.NFC.String(member.Name)
	if name == "" {
		return "", RuleNone, false
	}

	for _, u := range directory {
		if norm.NFC.String(u.FullName) == name || norm.NFC.String(u.DisplayName) == name {
			return u.Email, RuleExact, true
		}
	}

	for _, u := range directory {
		full := norm.NFC.String(u.FullName)
		if full != "" && strings.HasPrefix(name, full) {
			return u.Email, RulePrefix, true
		}
	}

	for _, u := range directory {
		full := norm.NFC.String(u.FullName)
		if full == "" {
			continue
		}
		for _, a := range nameAliases {
			if withFirstName(full, a.formal, a.short) == name {
				return u.Email, RuleAlias, true
			}
		}
	}

	return "", RuleNone, false
}

// withFirstName swaps the first word of full from formal to short. Names with any other
// first word, including ones that merely start with formal, come back unchanged.
func withFirstName(full, formal, short string) string {
	first, _, _ := strings.Cut(full, " ")
	if first != formal {
		return full
	}
	return short + full[len(first):]
}

func (r Resolver) inDomain(email string) bool {
	if r.EmailDomain == "" || email == "" {
		return false
	}
	domain := "@" + strings.TrimPrefix(strings.ToLower(r.EmailDomain), "@")
	return strings.HasSuffix(strings.ToLower(email), domain)
}
