// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import "github.com/constitute-foundation/constitute/identity"

// Message kinds carried inside event content.
const (
	kindIdentityCreated     = "identity_created"
	kindPairRequest         = "pair_request"
	kindPairApprove         = "pair_approve"
	kindPairReject          = "pair_reject"
	kindPairResolved        = "pair_resolved"
	kindDeviceRevoked       = "device_revoked"
	kindDeviceBlocked       = "device_blocked"
	kindDeviceUnblocked     = "device_unblocked"
	kindRoomKeyUpdate       = "room_key_update"
	kindIdentityLabelUpdate = "identity_label_update"
	kindDeviceLabelUpdate   = "device_label_update"
	kindProfileUpdate       = "profile_update"
	kindNotificationsClear  = "notifications_clear"
	kindZonePresence        = "zone_presence"
	kindZoneList            = "zone_list"
	kindZoneListRequest     = "zone_list_request"
	kindZoneMeta            = "zone_meta"
	kindZoneMetaRequest     = "zone_meta_request"
	kindChatMessage         = "chat_message"
	kindSwarmSignal         = "swarm_signal"
)

// identityCreatedPayload announces a freshly created single-device
// identity.
type identityCreatedPayload struct {
	Identity    string `json:"identity"`
	IdentityID  string `json:"identityId"`
	DevicePk    string `json:"devicePk"`
	DeviceLabel string `json:"deviceLabel"`
}

// pairRequestPayload is the plaintext join request an unlinked device
// broadcasts.
type pairRequestPayload struct {
	Identity    string `json:"identity"`
	Code        string `json:"code"`
	DeviceLabel string `json:"deviceLabel"`
	DeviceDID   string `json:"deviceDid"`
	DevicePk    string `json:"devicePk"`
	DeviceEncPk string `json:"deviceEncPk"`
}

// pairApprovePayload carries the sealed approval grant to the
// requester. EncryptedRoomKey is a sealed box holding approvalGrant.
type pairApprovePayload struct {
	Identity         string `json:"identity"`
	Code             string `json:"code"`
	ToPk             string `json:"toPk"`
	FromPk           string `json:"fromPk"`
	FromEncPk        string `json:"fromEncPk"`
	EncryptedRoomKey string `json:"encryptedRoomKey"`
}

// approvalGrant is the sealed payload inside a pair approval: the full
// membership view as of the approval, room key included.
type approvalGrant struct {
	IdentityID string                 `json:"identityId"`
	RoomKey    string                 `json:"roomKey"`
	Devices    []identity.DeviceEntry `json:"devices"`
}

type pairRejectPayload struct {
	Identity string `json:"identity"`
	Code     string `json:"code"`
	ToPk     string `json:"toPk"`
	FromPk   string `json:"fromPk"`
}

// pairResolvedPayload is the convergence marker flipping a request to
// its terminal status on every observer.
type pairResolvedPayload struct {
	Identity  string `json:"identity"`
	RequestID string `json:"requestId"`
	Code      string `json:"code"`
	DevicePk  string `json:"devicePk"`
	Status    string `json:"status"`
}

type deviceRevokedPayload struct {
	Identity string `json:"identity"`
	TargetPk string `json:"targetPk"`
}

type deviceBlockedPayload struct {
	Identity string `json:"identity"`
	TargetPk string `json:"targetPk"`
	Reason   string `json:"reason"`
}

type deviceUnblockedPayload struct {
	Identity string `json:"identity"`
	TargetPk string `json:"targetPk"`
}

// roomKeyUpdatePayload redistributes a rotated room key to one
// surviving device. EncryptedRoomKey is a sealed box holding
// roomKeyGrant.
type roomKeyUpdatePayload struct {
	Identity         string `json:"identity"`
	ToPk             string `json:"toPk"`
	FromPk           string `json:"fromPk"`
	FromEncPk        string `json:"fromEncPk"`
	EncryptedRoomKey string `json:"encryptedRoomKey"`
}

type roomKeyGrant struct {
	IdentityID string `json:"identityId"`
	RoomKey    string `json:"roomKey"`
}

type identityLabelUpdatePayload struct {
	Identity string `json:"identity"`
	NewLabel string `json:"newLabel"`
}

type deviceLabelUpdatePayload struct {
	Identity    string `json:"identity"`
	DevicePk    string `json:"devicePk"`
	DeviceLabel string `json:"deviceLabel"`
	DeviceDID   string `json:"deviceDid"`
}

type profileUpdatePayload struct {
	Pk            string `json:"pk"`
	IdentityID    string `json:"identityId"`
	IdentityLabel string `json:"identityLabel"`
	Name          string `json:"name"`
	About         string `json:"about"`
}

type notificationsClearPayload struct {
	Identity string `json:"identity"`
}

type zonePresencePayload struct {
	Zone     string `json:"zone"`
	DevicePk string `json:"devicePk"`
	PeerHint string `json:"peerHint,omitempty"`
	TS       int64  `json:"ts"`
	TTL      int64  `json:"ttl"`
}

type zoneListPayload struct {
	Zone    string                `json:"zone"`
	Name    string                `json:"name,omitempty"`
	TS      int64                 `json:"ts"`
	Members []identity.ZoneMember `json:"members"`
}

type zoneRequestPayload struct {
	Zone string `json:"zone"`
	TS   int64  `json:"ts"`
}

type zoneMetaPayload struct {
	Zone string `json:"zone"`
	Name string `json:"name"`
	TS   int64  `json:"ts"`
}

type swarmSignalPayload struct {
	ToPk   string `json:"toPk"`
	FromPk string `json:"fromPk"`
	Kind   string `json:"kind"`
	SDP    string `json:"sdp"`
	TS     int64  `json:"ts"`
}
