package model

// Question is one problem statement with optional starter code.
type Question struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Templates   *Templates `json:"templates"`
}

// Templates holds starter code per language.
type Templates struct {
	Cpp    *string `json:"cpp"`
	Python *string `json:"python"`
	Rust   *string `json:"rust"`
}

// Summary is the list view of a question.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Summary returns the list view of q.
func (q Question) Summary() Summary {
	return Summary{ID: q.ID, Title: q.Title, Description: q.Description}
}
