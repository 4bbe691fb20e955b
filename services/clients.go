package services

import (
	"context"
	"sync"
)

// Clients builds the embedding and generation clients on first use. A failed
// construction is not cached, so the next call tries again. Once built, a
// client is reused for the life of the process.
type Clients struct {
	newEmbedder  func() (Embedder, error)
	newGenerator func() (Generator, error)

	mu        sync.Mutex
	embedder  Embedder
	generator Generator
}

// NewClients creates lazy accessors around the given constructors.
func NewClients(newEmbedder func() (Embedder, error), newGenerator func() (Generator, error)) *Clients {
	return &Clients{newEmbedder: newEmbedder, newGenerator: newGenerator}
}

// Embedder returns the embedding client, constructing it if needed.
func (c *Clients) Embedder() (Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.embedder == nil {
		e, err := c.newEmbedder()
		if err != nil {
			return nil, err
		}
		c.embedder = e
	}
	return c.embedder, nil
}

// Generator returns the generation client, constructing it if needed.
func (c *Clients) Generator() (Generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generator == nil {
		g, err := c.newGenerator()
		if err != nil {
			return nil, err
		}
		c.generator = g
	}
	return c.generator, nil
}

// Embed embeds text with the lazily built embedder. Its signature matches the
// embedding function chromem-go expects.
func (c *Clients) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := c.Embedder()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}
