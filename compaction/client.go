// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compaction

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/manifest"
)

// Coordinator is the penciller-side surface the compactor client
// drives, mirroring the cast protocol of spec.md §4.4: the worker
// asks for work, and posts the resulting manifest change back. The
// penciller server implements this; compaction never reaches into the
// server's state directly, only through these calls — there are no
// locks (spec.md §5), only message passing.
type Coordinator interface {
	// WorkForClerk asks for the next unit of work. hasWork is false
	// when there is nothing to do right now.
	WorkForClerk() (level int, snapshot *manifest.Manifest, hasWork bool)
	// ManifestChange posts a completed compaction round's result back
	// to the penciller for commit.
	ManifestChange(result Result) error
}

// Client owns the single worker goroutine attached to a penciller
// (spec.md §4.4: "A single worker is attached to each penciller").
type Client struct {
	root       string
	coord      Coordinator
	rng        *rand.Rand
	maxWorkWait time.Duration
	logger     base.Logger

	g      *errgroup.Group
	cancel context.CancelFunc
}

// New returns a compactor client. rngSeed controls the victim
// selection RNG, seeded once per penciller for reproducible tests
// (spec.md §9).
func New(root string, coord Coordinator, rngSeed int64, maxWorkWait time.Duration, logger base.Logger) *Client {
	return &Client{
		root:        root,
		coord:       coord,
		rng:         rand.New(rand.NewSource(rngSeed)),
		maxWorkWait: maxWorkWait,
		logger:      logger,
	}
}

// Start launches the worker loop. Safe to call once.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.g = g
	g.Go(func() error {
		c.loop(gctx)
		return nil
	})
}

// Stop cancels the worker loop and waits for it to exit, mirroring
// "Shutdown closes the compactor" (spec.md §5).
func (c *Client) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	return c.g.Wait()
}

func (c *Client) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		level, snapshot, hasWork := c.coord.WorkForClerk()
		if !hasWork {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.maxWorkWait):
			}
			continue
		}

		result, err := Run(c.root, snapshot, level, c.rng)
		if err != nil {
			c.logger.Errorf("compaction: level %d failed: %v", level, err)
			continue
		}
		if err := c.coord.ManifestChange(result); err != nil {
			c.logger.Errorf("compaction: posting manifest change for level %d failed: %v", level, err)
		}
	}
}
