// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package identity

// CredentialMethod distinguishes a software keypair from a
// hardware-backed credential upgrade.
type CredentialMethod string

const (
	CredentialSoft     CredentialMethod = "soft"
	CredentialHardware CredentialMethod = "hardware"
)

// Device is this client's persistent descriptor. One per running
// daemon; created once, mutated only by label changes and the
// hardware-credential upgrade.
type Device struct {
	DeviceID         string           `json:"deviceId"`
	Label            string           `json:"label"`
	DID              string           `json:"did"`
	CredentialMethod CredentialMethod `json:"credentialMethod"`
	CredentialID     string           `json:"credentialId,omitempty"`
	// CredentialSkipped records that the user declined the hardware
	// upgrade prompt, so it is not offered again.
	CredentialSkipped bool          `json:"credentialSkipped,omitempty"`
	Keys              KeyringRecord `json:"keys"`
}

// DeviceEntry is one member of an identity's device list. Uniqueness
// is by signing key Pk. EncPk is the X25519 key sealed boxes are
// addressed to.
type DeviceEntry struct {
	Pk    string `json:"pk"`
	EncPk string `json:"encPk"`
	DID   string `json:"did"`
	Label string `json:"label"`
}

// Identity is the logical principal spanning devices. RoomKey is the
// base64url symmetric key encrypting identity-scoped relay traffic;
// it is present exactly when Linked is true.
type Identity struct {
	ID      string        `json:"id"`
	Label   string        `json:"label"`
	Linked  bool          `json:"linked"`
	RoomKey string        `json:"roomKey,omitempty"`
	Devices []DeviceEntry `json:"devices"`
}

// HasDevice reports whether pk is in the device list.
func (id *Identity) HasDevice(pk string) bool {
	for _, d := range id.Devices {
		if d.Pk == pk {
			return true
		}
	}
	return false
}

// AddDevice appends entry if its signing key is not already present.
// Returns true if the list changed.
func (id *Identity) AddDevice(entry DeviceEntry) bool {
	if entry.Pk == "" || id.HasDevice(entry.Pk) {
		return false
	}
	id.Devices = append(id.Devices, entry)
	return true
}

// RemoveDevice drops the entry with the given signing key. Returns
// true if the list changed.
func (id *Identity) RemoveDevice(pk string) bool {
	for i, d := range id.Devices {
		if d.Pk == pk {
			id.Devices = append(id.Devices[:i], id.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// RequestStatus is the one-shot pairing state machine: pending, then
// exactly one of approved, rejected, or dismissed: terminal and
// sticky.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusDismissed RequestStatus = "dismissed"
)

// Resolved reports whether the status is terminal.
func (s RequestStatus) Resolved() bool { return s != StatusPending && s != "" }

// PendingRequest is one pairing request as seen by an approver device.
// ID is deterministic from (identityLabel, code, devicePk) so echoed
// broadcasts dedup to a single entry.
type PendingRequest struct {
	ID            string        `json:"id"`
	IdentityLabel string        `json:"identityLabel"`
	IdentityID    string        `json:"identityId,omitempty"`
	DevicePk      string        `json:"devicePk"`
	DeviceEncPk   string        `json:"deviceEncPk"`
	DeviceDID     string        `json:"deviceDid"`
	DeviceLabel   string        `json:"deviceLabel"`
	Code          string        `json:"code"`
	Status        RequestStatus `json:"status"`
	CreatedAt     int64         `json:"createdAt"`
	ResolvedAt    int64         `json:"resolvedAt,omitempty"`
}

// BlockEntry is one blocklisted device, keyed by pk or did. Entries
// persist until explicit removal.
type BlockEntry struct {
	Pk     string `json:"pk,omitempty"`
	DID    string `json:"did,omitempty"`
	Reason string `json:"reason"`
	TS     int64  `json:"ts"`
}

// Matches reports whether the entry refers to the given pk or did.
// Empty arguments never match.
func (b BlockEntry) Matches(pk, did string) bool {
	if pk != "" && b.Pk == pk {
		return true
	}
	return did != "" && b.DID == did
}

// Zone is a named presence group. Key is opaque: random for explicit
// zones, derived from (identityId, roomKey) for the implicit private
// zone.
type Zone struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

// ZoneMember is one device gossiping presence in a zone. PeerHint is
// the opaque address peers dial for the direct transport.
type ZoneMember struct {
	DevicePk string `json:"devicePk"`
	PeerHint string `json:"peerHint,omitempty"`
}

// ZoneSnapshot is the last adopted membership view for a zone,
// last-write-wins by TS.
type ZoneSnapshot struct {
	TS      int64        `json:"ts"`
	Members []ZoneMember `json:"members"`
}

// Upsert places member at the front of the list, removing any previous
// entry with the same device key.
func (s *ZoneSnapshot) Upsert(member ZoneMember, ts int64) {
	kept := make([]ZoneMember, 0, len(s.Members)+1)
	kept = append(kept, member)
	for _, m := range s.Members {
		if m.DevicePk != member.DevicePk {
			kept = append(kept, m)
		}
	}
	s.Members = kept
	if ts > s.TS {
		s.TS = ts
	}
}

// Notification is one user-visible event raised by the daemon.
type Notification struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt int64             `json:"createdAt"`
	Read      bool              `json:"read"`
}

// ChatMessage is one message in a pairwise identity queue.
type ChatMessage struct {
	ID             string `json:"id"`
	QueueID        string `json:"queueId"`
	FromIdentityID string `json:"fromIdentityId"`
	ToIdentityID   string `json:"toIdentityId"`
	FromLabel      string `json:"fromLabel"`
	Body           string `json:"body"`
	TS             int64  `json:"ts"`
}

// DirectoryEntry is a relay-observed identity sighting. Unlike
// discovery records these are unsigned and advisory.
type DirectoryEntry struct {
	IdentityID    string `json:"identityId"`
	IdentityLabel string `json:"identityLabel"`
	DevicePk      string `json:"devicePk"`
	ZoneKey       string `json:"zoneKey,omitempty"`
	LastSeen      int64  `json:"lastSeen"`
}

// Profile is the identity's public profile.
type Profile struct {
	Name  string `json:"name"`
	About string `json:"about"`
}
