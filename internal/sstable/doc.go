// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package sstable implements the external SST collaborator described
// in spec.md §6 — sst_new, sst_newlevelzero, sst_open, sst_get,
// sst_max_sqn, sst_close, sst_delete_confirmed and
// sst_expand_pointer. Block layout, bloom filters and a block cache
// are explicitly out of scope (§1); this package gives the rest of
// the module a small, real implementation to exercise against rather
// than leaving the collaborator as a bare interface, following the
// length-prefixed binary framing style used for on-disk records
// throughout the retrieved pack (e.g. nexusbase's manifest encoding).
package sstable
