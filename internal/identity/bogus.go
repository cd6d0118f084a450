package identity

import (
	"slices"

	"github.com/clockdesk/clockdesk/internal/model"
)

// DefaultDenylist holds known test and sub-account identifiers that leaked
// into directories before placeholder filtering existed.
var DefaultDenylist = []string{
	"JDrhQtQ7dGE93h7odSqg",
	"JDrhQtQ7dGEvFhF83Sqg",
	"ewYJUHEpmcAuBHMjgzak",
	"SuDSBek2TbPSRmUZP5C4",
	"BTtn9q0ujLZ8nlcxOJW0",
}

// BogusRules decide which stored identities the cleanup operation removes.
type BogusRules struct {
	Denylist []string
}

// Match reports whether i is a bogus identity and why.
func (r BogusRules) Match(i *model.Identity) (bool, string) {
	switch {
	case HasTemplateToken(i.ID):
		return true, "template token in id"
	case HasTemplateToken(i.DisplayName):
		return true, "template token in name"
	case HasTemplateToken(i.Email):
		return true, "template token in email"
	case slices.Contains(r.Denylist, i.ID):
		return true, "denylisted id"
	case i.TenantScope == "location":
		return true, "placeholder tenant scope"
	}
	return false, ""
}
