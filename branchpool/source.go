// source.go defines the capabilities a branch is built from.

package branchpool

import (
	"context"

	"github.com/xaionaro-go/avloop/types"
)

// Reader is an opened byte source of a media file.
type Reader interface {
	types.Closer
}

// Demuxer splits the data of a Reader into packets.
type Demuxer[P any] interface {
	types.Closer

	// ReadPacket returns the next packet, or io.EOF once the end of the
	// file is reached.
	ReadPacket(ctx context.Context) (P, error)

	// ReleasePacket returns a packet which was read but never delivered.
	ReleasePacket(pkt P)
}

// SourceFactory opens the elements of new branches.
type SourceFactory[P any] interface {
	OpenReader(ctx context.Context, uri string) (Reader, error)
	OpenDemuxer(ctx context.Context, reader Reader) (Demuxer[P], error)
}
