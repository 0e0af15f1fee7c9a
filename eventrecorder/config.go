// Copyright 2024 The Monad Core Authors
// This file is part of monad-core.
//
// monad-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// monad-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with monad-core. If not, see <http://www.gnu.org/licenses/>.

package eventrecorder

import "os"

// Config names every tunable spec.md leaves as a ring parameter: where
// the ring file lives, what category of events it carries, and its two
// power-of-two size shifts (spec.md §8 boundary behaviors).
type Config struct {
	Path             string
	Type             Type
	DescriptorsShift uint8 // default 16 (2^16 descriptors) if zero
	PayloadBufShift  uint8 // default 27 (128 MiB payload buffer) if zero
	MetadataHash     [32]byte
}

const (
	defaultDescriptorsShift = MinDescriptorsShift
	defaultPayloadBufShift  = MinPayloadBufShift
)

func (c Config) size() (Size, error) {
	ds, ps := c.DescriptorsShift, c.PayloadBufShift
	if ds == 0 {
		ds = defaultDescriptorsShift
	}
	if ps == 0 {
		ps = defaultPayloadBufShift
	}
	return NewSize(ds, ps)
}

// OpenRecorder creates (if absent) or opens cfg.Path as an event ring and
// returns a Recorder bound to it, the common construction path for a
// process that both owns and writes to its event ring.
func OpenRecorder(cfg Config) (*Recorder, *Ring, error) {
	size, err := cfg.size()
	if err != nil {
		return nil, nil, err
	}
	var ring *Ring
	if _, statErr := os.Stat(cfg.Path); statErr != nil {
		ring, err = Create(cfg.Path, cfg.Type, size, cfg.MetadataHash)
	} else {
		ring, err = Open(cfg.Path, size)
	}
	if err != nil {
		return nil, nil, err
	}
	return NewRecorder(ring), ring, nil
}
