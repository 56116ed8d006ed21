package storage

// NewJSONRepository opens the JSON-backed datastore and returns it as an
// AssetRepository.
func NewJSONRepository(path string, opts ...Option) (AssetRepository, error) {
	store, err := NewStorage(path, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}
