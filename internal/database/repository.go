package database

// Repository provides data access on top of the connection pool
type Repository struct {
	db *DB
}

// NewRepository creates a repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}
