package codec

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// DataType is the small integer tag on a LogEntry's payload kind.
type DataType int32

const (
	DataTypeData       DataType = 0
	DataTypeHole       DataType = 1
	DataTypeCheckpoint DataType = 2
	DataTypeTrim       DataType = 3
)

// Rank orders concurrent writers to the same address: the higher value
// wins; ties break by keeping whichever writer is already stored.
type Rank struct {
	Value uint64
	UUID  uuid.UUID
}

// CheckpointInfo carries the optional checkpoint-specific fields of a
// LogEntry. A nil *CheckpointInfo means the entry is not part of a
// checkpoint.
type CheckpointInfo struct {
	EntryType               int32
	CheckpointID            uuid.UUID
	CheckpointedStreamID    uuid.UUID
	CheckpointedStreamStart uint64
}

// LogEntry is the payload envelope stored at every global address.
type LogEntry struct {
	Data          []byte
	GlobalAddress uint64
	DataType      DataType
	Streams       []uuid.UUID
	Backpointers  map[uuid.UUID]uint64
	Rank          *Rank
	Checkpoint    *CheckpointInfo
}

const (
	entryFieldData                  = 1
	entryFieldGlobalAddress         = 2
	entryFieldDataType              = 3
	entryFieldStreams               = 4
	entryFieldBackpointers          = 5
	entryFieldRank                  = 6
	entryFieldCheckpointEntryType   = 7
	entryFieldCheckpointID          = 8
	entryFieldCheckpointStreamID    = 9
	entryFieldCheckpointStreamStart = 10
)

const (
	rankFieldValue = 1
	rankFieldUUID  = 2
)

const (
	backpointerFieldKey   = 1
	backpointerFieldValue = 2
)

func encodeRank(r *Rank) []byte {
	buf := make([]byte, 0, 24)
	buf = appendVarintField(buf, rankFieldValue, r.Value)
	buf = appendBytesField(buf, rankFieldUUID, []byte(r.UUID.String()))
	return buf
}

func decodeRank(b []byte) (*Rank, error) {
	r := &Rank{}
	for len(b) > 0 {
		num, typ, tn := protowire.ConsumeTag(b)
		if tn < 0 {
			return nil, fmt.Errorf("codec: malformed rank tag")
		}
		switch {
		case num == rankFieldValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b[tn:])
			if n < 0 {
				return nil, fmt.Errorf("codec: malformed rank.value")
			}
			r.Value = v
			b = b[tn+n:]
		case num == rankFieldUUID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b[tn:])
			if n < 0 {
				return nil, fmt.Errorf("codec: malformed rank.uuid")
			}
			id, err := uuid.Parse(string(v))
			if err != nil {
				return nil, fmt.Errorf("codec: rank.uuid: %w", err)
			}
			r.UUID = id
			b = b[tn+n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[tn:])
			if n < 0 {
				return nil, fmt.Errorf("codec: malformed rank field")
			}
			b = b[tn+n:]
		}
	}
	return r, nil
}

func encodeBackpointer(id uuid.UUID, value uint64) []byte {
	buf := make([]byte, 0, 48)
	buf = appendBytesField(buf, backpointerFieldKey, []byte(id.String()))
	buf = appendVarintField(buf, backpointerFieldValue, value)
	return buf
}

func decodeBackpointer(b []byte) (uuid.UUID, uint64, error) {
	var key uuid.UUID
	var value uint64
	for len(b) > 0 {
		num, typ, tn := protowire.ConsumeTag(b)
		if tn < 0 {
			return uuid.UUID{}, 0, fmt.Errorf("codec: malformed backpointer tag")
		}
		switch {
		case num == backpointerFieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b[tn:])
			if n < 0 {
				return uuid.UUID{}, 0, fmt.Errorf("codec: malformed backpointer.key")
			}
			id, err := uuid.Parse(string(v))
			if err != nil {
				return uuid.UUID{}, 0, fmt.Errorf("codec: backpointer.key: %w", err)
			}
			key = id
			b = b[tn+n:]
		case num == backpointerFieldValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b[tn:])
			if n < 0 {
				return uuid.UUID{}, 0, fmt.Errorf("codec: malformed backpointer.value")
			}
			value = v
			b = b[tn+n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[tn:])
			if n < 0 {
				return uuid.UUID{}, 0, fmt.Errorf("codec: malformed backpointer field")
			}
			b = b[tn+n:]
		}
	}
	return key, value, nil
}

// EncodeLogEntry serializes e as protobuf wire bytes. The codec is pure:
// it performs no I/O and never validates e.GlobalAddress against any
// range — that is the append path's job.
func EncodeLogEntry(e LogEntry) []byte {
	buf := make([]byte, 0, 64+len(e.Data))
	buf = appendBytesField(buf, entryFieldData, e.Data)
	buf = appendVarintField(buf, entryFieldGlobalAddress, e.GlobalAddress)
	buf = appendVarintField(buf, entryFieldDataType, uint64(uint32(e.DataType)))

	for _, s := range e.Streams {
		buf = appendBytesField(buf, entryFieldStreams, []byte(s.String()))
	}

	for id, v := range e.Backpointers {
		buf = appendBytesField(buf, entryFieldBackpointers, encodeBackpointer(id, v))
	}

	if e.Rank != nil {
		buf = appendBytesField(buf, entryFieldRank, encodeRank(e.Rank))
	}

	if e.Checkpoint != nil {
		c := e.Checkpoint
		buf = appendVarintField(buf, entryFieldCheckpointEntryType, int32ToWire(c.EntryType))
		buf = appendBytesField(buf, entryFieldCheckpointID, []byte(c.CheckpointID.String()))
		buf = appendBytesField(buf, entryFieldCheckpointStreamID, []byte(c.CheckpointedStreamID.String()))
		buf = appendVarintField(buf, entryFieldCheckpointStreamStart, c.CheckpointedStreamStart)
	}

	return buf
}

// DecodeLogEntry parses b (exactly the payload bytes, with no trailing
// data) into a LogEntry. It rejects a b whose declared sub-fields run past
// the end of b, but it is the caller's responsibility (the record codec,
// via Metadata.Length) to have already sliced b to the exact payload size.
func DecodeLogEntry(b []byte) (LogEntry, error) {
	var e LogEntry
	var checkpoint CheckpointInfo
	haveCheckpoint := false

	for len(b) > 0 {
		num, typ, tn := protowire.ConsumeTag(b)
		if tn < 0 {
			return LogEntry{}, fmt.Errorf("codec: malformed entry tag")
		}
		rest := b[tn:]

		switch num {
		case entryFieldData:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.data")
			}
			e.Data = append([]byte(nil), v...)
			b = rest[n:]
		case entryFieldGlobalAddress:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.global_address")
			}
			e.GlobalAddress = v
			b = rest[n:]
		case entryFieldDataType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.data_type")
			}
			e.DataType = DataType(int32(uint32(v)))
			b = rest[n:]
		case entryFieldStreams:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.streams")
			}
			id, err := uuid.Parse(string(v))
			if err != nil {
				return LogEntry{}, fmt.Errorf("codec: entry.streams: %w", err)
			}
			e.Streams = append(e.Streams, id)
			b = rest[n:]
		case entryFieldBackpointers:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.backpointers")
			}
			key, val, err := decodeBackpointer(v)
			if err != nil {
				return LogEntry{}, err
			}
			if e.Backpointers == nil {
				e.Backpointers = make(map[uuid.UUID]uint64)
			}
			e.Backpointers[key] = val
			b = rest[n:]
		case entryFieldRank:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.rank")
			}
			r, err := decodeRank(v)
			if err != nil {
				return LogEntry{}, err
			}
			e.Rank = r
			b = rest[n:]
		case entryFieldCheckpointEntryType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.checkpoint_entry_type")
			}
			checkpoint.EntryType = wireToInt32(v)
			haveCheckpoint = true
			b = rest[n:]
		case entryFieldCheckpointID:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.checkpoint_id")
			}
			id, err := uuid.Parse(string(v))
			if err != nil {
				return LogEntry{}, fmt.Errorf("codec: entry.checkpoint_id: %w", err)
			}
			checkpoint.CheckpointID = id
			haveCheckpoint = true
			b = rest[n:]
		case entryFieldCheckpointStreamID:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.checkpointed_stream_id")
			}
			id, err := uuid.Parse(string(v))
			if err != nil {
				return LogEntry{}, fmt.Errorf("codec: entry.checkpointed_stream_id: %w", err)
			}
			checkpoint.CheckpointedStreamID = id
			haveCheckpoint = true
			b = rest[n:]
		case entryFieldCheckpointStreamStart:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry.checkpointed_stream_start")
			}
			checkpoint.CheckpointedStreamStart = v
			haveCheckpoint = true
			b = rest[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return LogEntry{}, fmt.Errorf("codec: malformed entry field %d", num)
			}
			b = rest[n:]
		}
	}

	if haveCheckpoint {
		e.Checkpoint = &checkpoint
	}
	return e, nil
}
