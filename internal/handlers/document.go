package handlers

import (
	"context"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"strings"
	"time"
)

const defaultChunkSize = 1000

// Document splits text into chunks, embeds each one and stores the result.
type Document struct {
	Embedder ports.Embedder
	Store    ports.ChunkStore
	Now      func() time.Time
}

func (h *Document) Execute(ctx context.Context, t domain.Task, r ports.Reporter) (map[string]any, error) {
	docID, err := requireStr(t.Payload, "document_id")
	if err != nil {
		return nil, err
	}
	content := str(t.Payload, "content")
	size := intOr(t.Payload, "chunk_size", defaultChunkSize)

	progress(ctx, r, t.ID, 0.1, "starting document processing")

	parts := Chunk(content, size)
	progress(ctx, r, t.ID, 0.3, fmt.Sprintf("document split into %d chunks", len(parts)))

	now := h.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(parts))
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks = append(chunks, domain.Chunk{
			ID:             fmt.Sprintf("%s_chunk_%d", docID, i),
			DocumentID:     docID,
			OrganizationID: t.OrganizationID,
			Content:        part,
			Embedding:      h.Embedder.Embed(ctx, part),
			Position:       i,
			CreatedAt:      now,
		})
		p := 0.3 + 0.6*float64(i+1)/float64(len(parts))
		progress(ctx, r, t.ID, p, fmt.Sprintf("processed chunk %d/%d", i+1, len(parts)))
	}

	if err := h.Store.SaveChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("save chunks: %w", err)
	}
	progress(ctx, r, t.ID, 1.0, "document processed")

	return map[string]any{
		"document_id":          docID,
		"chunks_processed":     len(parts),
		"embeddings_generated": len(chunks),
		"status":               "completed",
	}, nil
}

// Chunk greedily packs whitespace-separated words into chunks of roughly
// size characters. A word is never split, so a chunk can exceed size by at
// most one word.
func Chunk(content string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	var (
		chunks  []string
		current []string
		n       int
	)
	for _, w := range strings.Fields(content) {
		if n+len(w) > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = []string{w}
			n = len(w) + 1
			continue
		}
		current = append(current, w)
		n += len(w) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
