package ports

// Cache is the in-process read cache in front of the backing store.
// Implementations serialize each call internally; none of the methods block on
// another subsystem.
type Cache interface {
	Get(key string) (value string, found bool)
	Put(key string, value string)
	Remove(key string)
}
