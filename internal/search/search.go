package search

// Result is a single comment hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	TopicID   string `json:"topicId"`
	Snippet   string `json:"snippet"`
	OrgNumber string `json:"-"`
}

// Query describes a comment search request. OrgNumber is mandatory: search
// never crosses tenant boundaries.
type Query struct {
	Text      string
	OrgNumber string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID        string `json:"id"`
	OrgNumber string `json:"orgNumber"`
	TopicID   string `json:"topicId"`
	Comment   string `json:"comment"`
}
