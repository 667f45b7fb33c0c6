// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway implements the mailbox gateway on top of the Gmail API:
// listing messages added since a history cursor, fetching a message, and
// starting or stopping the push watch.
package gateway

import (
	"errors"
	"time"
)

// ErrCursorExpired is returned when the provider no longer retains history
// for the requested cursor and a full resync would be required.
var ErrCursorExpired = errors.New("history cursor expired")

// ChangeSet is the result of listing changes since a cursor.
type ChangeSet struct {
	MessageIDs []string
	NewCursor  string
}

// Watch is the lease granted by the provider when a watch starts.
type Watch struct {
	HistoryID  string
	Expiration time.Time
}
