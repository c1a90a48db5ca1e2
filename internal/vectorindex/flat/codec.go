package flat

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"

	"docqa/internal/domain"
)

const snapshotVersion = 1

// Snapshot is the persisted form of a flat index.
type Snapshot struct {
	Version   int
	Model     string
	Dimension int
	Entries   []domain.Entry
}

// Codec writes and reads a Snapshot to a single file.
type Codec interface {
	FileName() string
	Encode(ctx context.Context, path string, snap Snapshot) error
	Decode(ctx context.Context, path string) (Snapshot, error)
}

// CodecFor returns the codec registered for format ("gob" or "sqlite").
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", "gob":
		return GobCodec{}, nil
	case "sqlite":
		return SQLiteCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown flat index format %q", domain.ErrConfig, format)
	}
}

// GobCodec stores the snapshot as a single gob stream.
type GobCodec struct{}

func (GobCodec) FileName() string { return "index.gob" }

func (GobCodec) Encode(_ context.Context, path string, snap Snapshot) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (GobCodec) Decode(_ context.Context, path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	err = gob.NewDecoder(f).Decode(&snap)
	return snap, err
}
