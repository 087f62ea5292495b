package domain

const DefaultSearchLimit = 20

// SearchQuery targets either one group or one private conversation.
type SearchQuery struct {
	Text  string
	Group string
	UserA string
	UserB string
	Limit int
}

func (q SearchQuery) IsGroup() bool {
	return q.Group != ""
}
