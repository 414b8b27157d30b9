package heap

// Misaligned reports that a heap file's length is not a multiple of its
// block size. OpenStrict returns it instead of truncating.
type Misaligned struct {
	Length    int64
	BlockSize int64
}

func (e Misaligned) Error() string {
	return "heap: file length is not a multiple of block size"
}
