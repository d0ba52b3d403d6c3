package transfer

// maxChunksPerFile caps the part count of a multi-part upload; chunk size
// grows with file size once the cap would otherwise be exceeded.
const maxChunksPerFile = 1000

// Chunk is one byte-range slice of a file moved as a single request.
// Chunks exist only for the duration of one file's transfer.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
}

// Chunker computes the chunk layout for a file size.
type Chunker struct {
	// SingleRequestThreshold is the largest size sent as one request.
	SingleRequestThreshold int64
	// MinChunkSize / MaxChunkSize bound the computed chunk size. The
	// part-count cap overrides MaxChunkSize for very large files.
	MinChunkSize int64
	MaxChunkSize int64
}

// Split returns the chunk layout for a file of the given size. Lengths
// always sum to size and the chunk count never exceeds maxChunksPerFile.
func (c Chunker) Split(size int64) []Chunk {
	if size <= c.SingleRequestThreshold {
		return []Chunk{{Index: 0, Offset: 0, Length: size}}
	}

	chunkSize := c.MinChunkSize
	if c.MaxChunkSize > 0 && chunkSize > c.MaxChunkSize {
		chunkSize = c.MaxChunkSize
	}
	// The part-count cap wins over MaxChunkSize: a layout with more than
	// maxChunksPerFile parts would be rejected by the archive.
	if needed := (size + maxChunksPerFile - 1) / maxChunksPerFile; needed > chunkSize {
		chunkSize = needed
	}

	var chunks []Chunk
	for offset := int64(0); offset < size; offset += chunkSize {
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Offset: offset, Length: length})
	}
	return chunks
}

// PartSizes returns just the lengths, in order, for upload registration.
func (c Chunker) PartSizes(size int64) []int64 {
	chunks := c.Split(size)
	sizes := make([]int64, len(chunks))
	for i, ch := range chunks {
		sizes[i] = ch.Length
	}
	return sizes
}
