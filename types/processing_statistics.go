package types

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

type ProcessingPacketsStatistics struct {
	Unknown uint64 `json:",omitempty"`
	Other   uint64 `json:",omitempty"`
	Video   uint64 `json:",omitempty"`
	Audio   uint64 `json:",omitempty"`
}

func (s ProcessingPacketsStatistics) Total() uint64 {
	return s.Unknown + s.Other + s.Video + s.Audio
}

type ProcessingStatistics struct {
	BytesCountRead  uint64 `json:",omitempty"`
	BytesCountWrote uint64 `json:",omitempty"`
	PacketsRead     ProcessingPacketsStatistics
	PacketsDropped  ProcessingPacketsStatistics
	PacketsWrote    ProcessingPacketsStatistics
}

func (s ProcessingStatistics) String() string {
	return fmt.Sprintf(
		"wrote %s in %d packets (video:%d, audio:%d), dropped %d",
		humanize.IBytes(s.BytesCountWrote),
		s.PacketsWrote.Total(), s.PacketsWrote.Video, s.PacketsWrote.Audio,
		s.PacketsDropped.Total(),
	)
}
