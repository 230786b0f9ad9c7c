// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/internal/base"
)

// magic identifies a well-formed SST file. It is checked on open so a
// truncated or foreign file is rejected loudly rather than silently
// misparsed.
const magic uint32 = 0x4c565353 // "LVSS"

func writeUint16String(w *bufio.Writer, s []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write(s)
	return err
}

func readUint16String(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeUint32Bytes(w *bufio.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readUint32Bytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// encodeFile serializes a sorted, deduplicated record slice to w. The
// body is checksummed with CRC32 the same way the manifest file is
// (spec.md §6), so a truncated write is detected on the next open
// rather than silently returning partial data.
func encodeFile(w io.Writer, records []base.Record, maxSQN base.SQN) error {
	var body []byte
	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(maxSQN)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(records))); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeUint16String(bw, rec.Key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(rec.Value.SQN)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint8(rec.Value.Status)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, rec.Value.TTL); err != nil {
			return err
		}
		if err := writeUint32Bytes(bw, rec.Value.Payload); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	body = buf.Bytes()

	crc := crc32.ChecksumIEEE(body)
	if err := binary.Write(w, binary.LittleEndian, crc); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// decodeFile reads back what encodeFile wrote, verifying the CRC
// before trusting any record.
func decodeFile(r io.Reader) ([]base.Record, base.SQN, error) {
	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &crc); err != nil {
		return nil, 0, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if got := crc32.ChecksumIEEE(body); got != crc {
		return nil, 0, errors.Newf("sstable: CRC mismatch: file=%08x computed=%08x", crc, got)
	}

	br := bufio.NewReader(bytes.NewReader(body))
	var m uint32
	if err := binary.Read(br, binary.LittleEndian, &m); err != nil {
		return nil, 0, err
	}
	if m != magic {
		return nil, 0, errors.Newf("sstable: bad magic %08x", m)
	}
	var maxSQN uint64
	if err := binary.Read(br, binary.LittleEndian, &maxSQN); err != nil {
		return nil, 0, err
	}
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, 0, err
	}
	records := make([]base.Record, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := readUint16String(br)
		if err != nil {
			return nil, 0, err
		}
		var sqn uint64
		if err := binary.Read(br, binary.LittleEndian, &sqn); err != nil {
			return nil, 0, err
		}
		var status uint8
		if err := binary.Read(br, binary.LittleEndian, &status); err != nil {
			return nil, 0, err
		}
		var ttl int64
		if err := binary.Read(br, binary.LittleEndian, &ttl); err != nil {
			return nil, 0, err
		}
		payload, err := readUint32Bytes(br)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, base.Record{
			Key: base.Key(key),
			Value: base.Value{
				SQN:     base.SQN(sqn),
				Status:  base.Status(status),
				TTL:     ttl,
				Payload: payload,
			},
		})
	}
	return records, base.SQN(maxSQN), nil
}
