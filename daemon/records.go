// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/wire"
)

// --- profile ---

func (d *Daemon) rpcProfileGet(ctx context.Context, _ struct{}) (any, error) {
	profile, _, err := d.cfg.Store.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

type profileSetParams struct {
	Name  string `json:"name"`
	About string `json:"about"`
}

// rpcProfileSet stores the profile and announces it. Profiles are
// cross-identity by construction, so the broadcast is plaintext.
func (d *Daemon) rpcProfileSet(ctx context.Context, p profileSetParams) (any, error) {
	profile := identity.Profile{Name: p.Name, About: p.About}
	if err := d.cfg.Store.SetProfile(ctx, profile); err != nil {
		return nil, err
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	if ok && id.Linked {
		if _, err := d.publishLocked(kindProfileUpdate, profileUpdatePayload{
			Pk:            d.keys.Pk(),
			IdentityID:    id.ID,
			IdentityLabel: id.Label,
			Name:          p.Name,
			About:         p.About,
		}, nil, identityTag(id.Label)); err != nil {
			d.logger.Warn("profile update not published", "error", err)
		}
	}
	return profile, nil
}

// onProfileUpdate mirrors sightings into the directory; an update from
// one of our own identity's devices also adopts the profile locally.
func (d *Daemon) onProfileUpdate(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p profileUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.IdentityID == "" {
		return nil
	}
	if err := d.cfg.Store.UpsertDirectory(ctx, identity.DirectoryEntry{
		IdentityID:    p.IdentityID,
		IdentityLabel: p.IdentityLabel,
		DevicePk:      ev.Pubkey,
		LastSeen:      ev.CreatedAt,
	}); err != nil {
		return err
	}

	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.ID != p.IdentityID {
		return err
	}
	if ev.Pubkey == d.keys.Pk() {
		return nil
	}
	return d.cfg.Store.SetProfile(ctx, identity.Profile{Name: p.Name, About: p.About})
}

// --- notifications ---

func (d *Daemon) rpcNotificationsList(ctx context.Context, _ struct{}) (any, error) {
	return d.cfg.Store.Notifications(ctx)
}

type notificationRefParams struct {
	ID string `json:"id"`
}

// rpcNotificationsRead marks one notification read. Marking an already
// read or unknown notification is a no-op, not an error.
func (d *Daemon) rpcNotificationsRead(ctx context.Context, p notificationRefParams) (any, error) {
	if p.ID == "" {
		return nil, validationErr("id required")
	}
	if err := d.cfg.Store.MarkNotificationRead(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"read": true}, nil
}

func (d *Daemon) rpcNotificationsRemove(ctx context.Context, p notificationRefParams) (any, error) {
	if p.ID == "" {
		return nil, validationErr("id required")
	}
	if err := d.cfg.Store.RemoveNotification(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"removed": true}, nil
}

// rpcNotificationsClear clears locally and broadcasts so every device
// of the identity clears together.
func (d *Daemon) rpcNotificationsClear(ctx context.Context, _ struct{}) (any, error) {
	if err := d.cfg.Store.ClearNotifications(ctx); err != nil {
		return nil, err
	}
	if id, ok, err := d.identityLocked(ctx); err != nil {
		return nil, err
	} else if ok && id.Linked && d.cipher != nil {
		if _, err := d.publishLocked(kindNotificationsClear, notificationsClearPayload{
			Identity: id.Label,
		}, d.cipher, identityTag(id.Label)); err != nil {
			d.logger.Warn("notifications clear not published", "error", err)
		}
	}
	return map[string]bool{"cleared": true}, nil
}

func (d *Daemon) onNotificationsClear(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p notificationsClearPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if ev.Pubkey == d.keys.Pk() {
		return nil
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity {
		return err
	}
	return d.cfg.Store.ClearNotifications(ctx)
}

// --- blocklist ---

func (d *Daemon) rpcBlockedList(ctx context.Context, _ struct{}) (any, error) {
	return d.cfg.Store.Blocklist(ctx)
}

type blockedRemoveParams struct {
	Pk  string `json:"pk"`
	DID string `json:"did"`
}

// rpcBlockedRemove unblocks a device locally and broadcasts
// device_unblocked so the identity's blocklists converge both ways.
func (d *Daemon) rpcBlockedRemove(ctx context.Context, p blockedRemoveParams) (any, error) {
	if p.Pk == "" && p.DID == "" {
		return nil, validationErr("pk or did required")
	}
	removed, err := d.cfg.Store.RemoveBlock(ctx, p.Pk, p.DID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, notFoundErr("no matching blocklist entry")
	}
	if id, ok, err := d.identityLocked(ctx); err != nil {
		return nil, err
	} else if ok && id.Linked && d.cipher != nil && p.Pk != "" {
		if _, err := d.publishLocked(kindDeviceUnblocked, deviceUnblockedPayload{
			Identity: id.Label,
			TargetPk: p.Pk,
		}, d.cipher, identityTag(id.Label)); err != nil {
			d.logger.Warn("device_unblocked not published", "error", err)
		}
	}
	return map[string]bool{"removed": true}, nil
}

// --- directory ---

func (d *Daemon) rpcDirectoryList(ctx context.Context, _ struct{}) (any, error) {
	return d.cfg.Store.Directory(ctx)
}

// --- chat ---

type chatOpenParams struct {
	PeerIdentityID string `json:"peerIdentityId"`
}

// rpcChatOpen resolves the pairwise queue id for a peer identity.
func (d *Daemon) rpcChatOpen(ctx context.Context, p chatOpenParams) (any, error) {
	if p.PeerIdentityID == "" {
		return nil, validationErr("peerIdentityId required")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"queueId": identity.ChatQueueID(id.ID, p.PeerIdentityID),
	}, nil
}

type chatListParams struct {
	QueueID        string `json:"queueId"`
	PeerIdentityID string `json:"peerIdentityId"`
}

func (d *Daemon) rpcChatList(ctx context.Context, p chatListParams) (any, error) {
	queueID := p.QueueID
	if queueID == "" {
		if p.PeerIdentityID == "" {
			return nil, validationErr("queueId or peerIdentityId required")
		}
		id, err := d.requireLinkedLocked(ctx)
		if err != nil {
			return nil, err
		}
		queueID = identity.ChatQueueID(id.ID, p.PeerIdentityID)
	}
	return d.cfg.Store.Chat(ctx, queueID)
}

type chatSendParams struct {
	PeerIdentityID string `json:"peerIdentityId"`
	Body           string `json:"body"`
}

// rpcChatSend appends the message locally and broadcasts it. Chat
// crosses identity boundaries, so the envelope is plaintext; the echo
// from the relay dedups against the local append by message id.
func (d *Daemon) rpcChatSend(ctx context.Context, p chatSendParams) (any, error) {
	if p.PeerIdentityID == "" {
		return nil, validationErr("peerIdentityId required")
	}
	if p.Body == "" {
		return nil, validationErr("body required")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	msgID, err := identity.NewOpaqueID("msg")
	if err != nil {
		return nil, err
	}
	msg := identity.ChatMessage{
		ID:             msgID,
		QueueID:        identity.ChatQueueID(id.ID, p.PeerIdentityID),
		FromIdentityID: id.ID,
		ToIdentityID:   p.PeerIdentityID,
		FromLabel:      id.Label,
		Body:           p.Body,
		TS:             d.clk.Now().Unix(),
	}
	if _, err := d.cfg.Store.AppendChat(ctx, msg); err != nil {
		return nil, err
	}
	if _, err := d.publishLocked(kindChatMessage, msg, nil, identityTag(id.Label)); err != nil {
		return nil, err
	}
	return msg, nil
}

// onChatMessage stores messages for queues this identity participates
// in. Duplicate delivery dedups by message id.
func (d *Daemon) onChatMessage(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var msg identity.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.ID == "" || msg.QueueID == "" {
		return nil
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked {
		return err
	}
	if msg.FromIdentityID != id.ID && msg.ToIdentityID != id.ID {
		return nil
	}

	appended, err := d.cfg.Store.AppendChat(ctx, msg)
	if err != nil {
		return err
	}
	if appended && msg.ToIdentityID == id.ID {
		d.notifyLocked(ctx, "chat_message", "Message from "+msg.FromLabel, msg.Body,
			map[string]string{"queueId": msg.QueueID, "fromIdentityId": msg.FromIdentityID})
	}
	if msg.FromIdentityID != id.ID {
		if err := d.cfg.Store.UpsertDirectory(ctx, identity.DirectoryEntry{
			IdentityID:    msg.FromIdentityID,
			IdentityLabel: msg.FromLabel,
			DevicePk:      ev.Pubkey,
			LastSeen:      ev.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}
