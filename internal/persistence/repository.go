package persistence

// Repository is the durable key-value layer behind the training buffer
// journal and the online model snapshots. It abstracts the underlying
// storage mechanism (BadgerDB in production, in-memory in tests) from the
// rest of the application.
type Repository interface {
	// SetJSON marshals value and stores it under key.
	SetJSON(key string, value interface{}) error

	// GetJSON unmarshals the value at key into out. It returns (false, nil)
	// when the key does not exist.
	GetJSON(key string, out interface{}) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// ScanPrefix calls fn for every key with the given prefix, in key order.
	// Returning an error from fn stops the scan.
	ScanPrefix(prefix string, fn func(key string, value []byte) error) error

	// Close gracefully closes the connection to the database.
	Close() error
}
