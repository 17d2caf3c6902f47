// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import "github.com/google/uuid"

// NewRecordID returns a globally unique identifier for a client-created
// record. IDs are assigned on the device so records can be created fully
// offline; collision probability across a fleet of devices is accepted as
// negligible.
func NewRecordID() string {
	return uuid.NewString()
}
