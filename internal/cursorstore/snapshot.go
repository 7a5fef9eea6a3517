// Package cursorstore implements durable cursor persistence (spec
// component G): small snapshots go to a metadata store record, large
// ones spill to a dedicated cursor ledger (a small logview.LogView of
// its own), with crash-consistent recovery.
package cursorstore

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lipandr/cursorlog/internal/cursorerr"
)

// Range mirrors an interval of the individually-deleted range set in
// the wire format: {lo_seg, lo_ent, hi_seg, hi_ent}.
type Range struct {
	LoSeg, HiSeg uint64
	LoEnt, HiEnt int64
}

// Snapshot is the durable cursor record of spec §6.
type Snapshot struct {
	MarkDeleteSegment   uint64
	MarkDeleteEntry     int64
	CursorsLedgerID     int64 // -1 if unused
	IndividuallyDeleted []Range
	LastActive          uint64
}

// Marshal encodes the snapshot using protowire directly — there is no
// protoc available in this environment to generate message types, so
// the wire format is hand-built field by field with the same tag/varint
// primitives generated code would use. Field numbers match spec §6's
// cursor snapshot record.
func (s Snapshot) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, s.MarkDeleteSegment)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.MarkDeleteEntry))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.CursorsLedgerID))
	for _, r := range s.IndividuallyDeleted {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRange(r))
	}
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, s.LastActive)
	return b
}

func marshalRange(r Range) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.LoSeg)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.LoEnt))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, r.HiSeg)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.HiEnt))
	return b
}

// Unmarshal decodes a snapshot previously produced by Marshal.
func Unmarshal(data []byte) (Snapshot, error) {
	var s Snapshot
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Snapshot{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "consume snapshot tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Snapshot{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "consume mark_delete_segment")
			}
			s.MarkDeleteSegment = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Snapshot{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "consume mark_delete_entry")
			}
			s.MarkDeleteEntry = protowire.DecodeZigZag(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Snapshot{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "consume cursors_ledger_id")
			}
			s.CursorsLedgerID = protowire.DecodeZigZag(v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Snapshot{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "consume individually_deleted")
			}
			r, err := unmarshalRange(v)
			if err != nil {
				return Snapshot{}, err
			}
			s.IndividuallyDeleted = append(s.IndividuallyDeleted, r)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Snapshot{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "consume last_active")
			}
			s.LastActive = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Snapshot{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "skip unknown field")
			}
			data = data[n:]
		}
	}
	return s, nil
}

func unmarshalRange(data []byte) (Range, error) {
	var r Range
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Range{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "consume range tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			r.LoSeg = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			r.LoEnt = protowire.DecodeZigZag(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			r.HiSeg = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			r.HiEnt = protowire.DecodeZigZag(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Range{}, cursorerr.Mark(protowire.ParseError(n), cursorerr.BrokenCursor, "skip unknown range field")
			}
			data = data[n:]
		}
	}
	return r, nil
}
