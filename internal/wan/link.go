// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package wan

// Link is a radio channel carrying raw frames. TryRecv never blocks and
// Send is fire-and-forget: a failed send is reported, never retried.
type Link interface {
	TryRecv() ([]byte, bool)
	Send(frame []byte) error
	Close() error
}
