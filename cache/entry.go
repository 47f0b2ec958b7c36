package cache

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// MetadataWriter is the metadata key holding the id of the Manager that wrote an entry.
const MetadataWriter = "writer"

// Entry is a cached value with its provenance. Entries are immutable: a new
// write replaces the entry, it never edits one in place.
type Entry[T any] struct {
	Data       T
	CreatedAt  time.Time
	StrategyID StrategyID
	// Version is a content hash of the encoded data.
	Version  string
	Metadata map[string]any
}

// Age is how long ago the entry was created, as seen at now.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// envelope is the stored form of an Entry, shared by both tiers.
type envelope struct {
	Data       []byte         `msgpack:"d"`
	CreatedAt  time.Time      `msgpack:"c"`
	StrategyID StrategyID     `msgpack:"s"`
	Version    string         `msgpack:"v"`
	Metadata   map[string]any `msgpack:"m,omitempty"`
}

func newEnvelope(value any, strategy StrategyID, createdAt time.Time, metadata map[string]any) (envelope, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return envelope{}, err
	}
	return envelope{
		Data:       data,
		CreatedAt:  createdAt,
		StrategyID: strategy,
		Version:    strconv.FormatUint(xxhash.Sum64(data), 16),
		Metadata:   copyMetadata(metadata),
	}, nil
}

func (e envelope) encode() ([]byte, error) {
	return msgpack.Marshal(&e)
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var e envelope
	err := msgpack.Unmarshal(raw, &e)
	return e, err
}

func decodeEntry[T any](e envelope) (Entry[T], error) {
	var data T
	if err := msgpack.Unmarshal(e.Data, &data); err != nil {
		return Entry[T]{}, err
	}
	return Entry[T]{
		Data:       data,
		CreatedAt:  e.CreatedAt,
		StrategyID: e.StrategyID,
		Version:    e.Version,
		Metadata:   copyMetadata(e.Metadata),
	}, nil
}

func copyMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
