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

// Package resolver maps inbound senders to CRM contacts.
package resolver

import (
	"context"
	"net/mail"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/retry"
)

// ContactStore is the part of the CRM store the resolver reads.
type ContactStore interface {
	FindContactByEmail(ctx context.Context, email string) (*models.Contact, error)
	HasReplied(ctx context.Context, contactID string) (bool, error)
}

// Resolution is the outcome of resolving a sender.
type Resolution struct {
	Contact        *models.Contact
	AlreadyReplied bool
}

// Resolver looks up contacts by sender address.
type Resolver struct {
	store  ContactStore
	policy retry.Policy
}

// New creates a resolver over the given store.
func New(store ContactStore) *Resolver {
	return &Resolver{store: store, policy: retry.Default}
}

// Resolve returns the contact for sender, or a Resolution with a nil
// Contact when no contact matches.
func (r *Resolver) Resolve(ctx context.Context, sender string) (Resolution, error) {
	addr := Normalize(sender)
	if addr == "" {
		return Resolution{}, nil
	}

	var contact *models.Contact
	err := retry.Do(ctx, r.policy, "find contact", func(ctx context.Context) error {
		var err error
		contact, err = r.store.FindContactByEmail(ctx, addr)
		return err
	})
	if err != nil {
		return Resolution{}, err
	}
	if contact == nil {
		return Resolution{}, nil
	}

	var replied bool
	err = retry.Do(ctx, r.policy, "check replied", func(ctx context.Context) error {
		var err error
		replied, err = r.store.HasReplied(ctx, contact.ID)
		return err
	})
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{Contact: contact, AlreadyReplied: replied}, nil
}

// Normalize extracts and lowercases the address part of a sender string.
func Normalize(sender string) string {
	if addr, err := mail.ParseAddress(sender); err == nil {
		return models.NormalizeAddress(addr.Address)
	}
	return models.NormalizeAddress(sender)
}
