package index

// Searcher is the read side of the reference index used by the assistant.
type Searcher interface {
	Search(query string, limit int) ([]SearchResult, error)
	GetDocument(path string) (*Document, error)
	Count() (int, error)
}

var _ Searcher = (*DB)(nil)
