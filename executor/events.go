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

package executor

// Event types drawn from the eventrecorder.TypeExecution namespace
// (spec.md §4.7: "a stream of typed events (block start, transaction
// start, transaction end, block end)").
const (
	EventBlockStart uint16 = iota + 1
	EventTxStart
	EventTxEnd
	EventBlockEnd
)

// emitBlockStart/emitBlockEnd/emitTxStart/emitTxEnd record the four event
// types spec.md §4.7 names, using blockNumber/txIndex as the descriptor's
// user words so a consumer can correlate events without decoding the
// payload. A nil Recorder (the common case when no embedding program has
// attached a consumer) makes every emit a no-op.
func (e *Executor) emitBlockStart(blockNumber uint64, txCount int) {
	e.emit(EventBlockStart, [4]uint64{blockNumber, uint64(txCount), 0, 0})
}

func (e *Executor) emitBlockEnd(blockNumber uint64, gasUsed uint64) {
	e.emit(EventBlockEnd, [4]uint64{blockNumber, gasUsed, 0, 0})
}

func (e *Executor) emitTxStart(blockNumber uint64, txIndex int) {
	e.emit(EventTxStart, [4]uint64{blockNumber, uint64(txIndex), 0, 0})
}

func (e *Executor) emitTxEnd(blockNumber uint64, txIndex int, status uint16, gasUsed uint64, retries int) {
	e.emit(EventTxEnd, [4]uint64{blockNumber, uint64(txIndex), uint64(status)<<32 | uint64(gasUsed), uint64(retries)})
}

func (e *Executor) emit(eventType uint16, user [4]uint64) {
	if e.cfg.Recorder == nil {
		return
	}
	_, _ = e.cfg.Recorder.Record(eventType, nil, user, e.cfg.Clock())
}

// clockFunc lets tests supply a deterministic clock; defaults to
// time.Now in Config's constructor so ExecuteBlock never has to special
// case a missing clock.
type clockFunc = func() uint64
