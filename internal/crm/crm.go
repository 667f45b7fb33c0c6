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

// Package crm is the CRM store consumed by the inbox agent: contact lookup,
// funnel stages, follow-ups, outbound sends and the inbox audit records.
package crm

import "errors"

// ErrNotFound is returned when a mutation targets a missing contact.
var ErrNotFound = errors.New("not found")
