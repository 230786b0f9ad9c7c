// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound names the not-present outcome of a point lookup,
// mirrored on the teacher's own base.ErrNotFound. Fetch does not
// return it: a missing key is reported as ok=false with a nil error.
var ErrNotFound = errors.New("leveled: not present")

// ErrReturned is the admission-refusal signal push_mem returns when
// the cache is flushing or the compactor has signalled a work
// backlog. It is flow control, not a failure: the bookie is expected
// to hold the batch and retry.
var ErrReturned = errors.New("leveled: push returned, retry")

// ErrNoLookup is returned by fetch when asked to resolve a key whose
// codec produced the NoLookup hash sentinel; such keys are not
// point-lookable by construction.
var ErrNoLookup = errors.New("leveled: key is not point-lookable (NoLookup hash)")

// ErrClosed is returned by any operation issued against a penciller
// or snapshot that has already been closed/released.
var ErrClosed = errors.New("leveled: penciller closed")

// ErrSnapshotExpired is returned when an operation is attempted
// against a snapshot handle whose deadline has passed and which has
// therefore been removed from the registry.
var ErrSnapshotExpired = errors.New("leveled: snapshot deadline exceeded")
