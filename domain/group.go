package domain

import (
	"strings"

	"github.com/samber/lo"
)

// Group is a named set of members kept in insertion order.
type Group struct {
	Name    string
	Members []string
}

func (g Group) Has(username string) bool {
	return lo.Contains(g.Members, username)
}

// ParseMembers splits raw comma-separated member lists.
// Tokens are trimmed, empty tokens skipped and duplicates collapsed,
// keeping the first-seen order.
func ParseMembers(raw ...string) []string {
	tokens := lo.FlatMap(raw, func(chunk string, _ int) []string {
		return lo.Map(strings.Split(chunk, ","), func(token string, _ int) string {
			return strings.TrimSpace(token)
		})
	})
	members := lo.Uniq(lo.Compact(tokens))
	if len(members) == 0 {
		return nil
	}
	return members
}
