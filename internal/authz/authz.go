// Package authz evaluates org-scoped permissions from the authorities claim
// of a verified bearer token.
package authz

import "strings"

type Level string

const (
	LevelRead  Level = "read"
	LevelWrite Level = "write"
	LevelAdmin Level = "admin"
)

const rootAdminAuthority = "system:root:admin"

// rules are evaluated top to bottom; the first held authority that grants the
// requested level wins.
var rules = []struct {
	authority func(orgNumber string) string
	grants    map[Level]bool
}{
	{
		authority: func(string) string { return rootAdminAuthority },
		grants:    map[Level]bool{LevelRead: true, LevelWrite: true, LevelAdmin: true},
	},
	{
		authority: func(orgNumber string) string { return orgAuthority(orgNumber, "admin") },
		grants:    map[Level]bool{LevelRead: true, LevelWrite: true, LevelAdmin: true},
	},
	{
		authority: func(orgNumber string) string { return orgAuthority(orgNumber, "write") },
		grants:    map[Level]bool{LevelRead: true, LevelWrite: true},
	},
	{
		authority: func(orgNumber string) string { return orgAuthority(orgNumber, "read") },
		grants:    map[Level]bool{LevelRead: true},
	},
}

// Allows reports whether the authorities claim grants level for orgNumber.
// Missing claims or a missing org number deny.
func Allows(authorities, orgNumber string, level Level) bool {
	if orgNumber == "" || authorities == "" {
		return false
	}
	held := parseAuthorities(authorities)
	for _, rule := range rules {
		if held[rule.authority(orgNumber)] && rule.grants[level] {
			return true
		}
	}
	return false
}

func orgAuthority(orgNumber, suffix string) string {
	return "organization:" + orgNumber + ":" + suffix
}

// parseAuthorities splits the claim into discrete tokens. Substring matching
// would let "organization:123:read" match inside an unrelated longer token.
func parseAuthorities(authorities string) map[string]bool {
	tokens := strings.FieldsFunc(authorities, func(r rune) bool {
		return r == ' ' || r == ','
	})
	held := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		held[token] = true
	}
	return held
}
