// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package codec implements the external key codec collaborator
// described in spec.md §6: magic_hash, endkey_passed, strip_to_seqonly
// and key_dominates. These are pluggable (a real deployment's key
// structure — bucket/key tuples, index entries, TTL encodings — lives
// entirely in the codec), but a concrete, reasonable default is
// provided so the rest of the module is runnable end to end.
package codec
