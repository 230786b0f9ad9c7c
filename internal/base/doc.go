// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines the data model shared by every package in the
// penciller: keys, values, records, sequence numbers and the narrow
// Logger interface used for diagnostic output. It deliberately knows
// nothing about on-disk formats, bloom filters or the write-ahead
// journal — those are external collaborators, described only by the
// interfaces in internal/sstable and internal/codec.
package base
