package process

// DefaultChunkSize is the size of one raw buffer moved between pipes.
const DefaultChunkSize = 1024 * 1024
