package models

type QueryPostRequest struct {
	// Text of the query.
	Text string `json:"text"`

	// NoContext indicates the index should not be used to add context to
	// the query.
	NoContext bool `json:"no-context"`
}
