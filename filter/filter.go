package filter

// Filter answers approximate membership queries over the keys of one shard.
// A false return value means the key is definitely absent; true means it is
// probably present and the shard must be read to confirm.
type Filter interface {
	Contains(key []byte) bool

	// Bytes returns the serialized filter as stored in the shard file.
	Bytes() []byte
}

// Builder is a Filter that is still being populated by a shard writer.
type Builder interface {
	Filter
	Add(key []byte)
}
