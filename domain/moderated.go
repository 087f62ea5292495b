package domain

// Moderated is the outcome of passing message content through moderation.
type Moderated struct {
	Content  string
	Censored []string
	Lang     string
}
