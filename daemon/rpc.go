// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"

	"github.com/constitute-foundation/constitute/lib/codec"
)

// handlerFunc is one RPC method: decode params, act, return a
// CBOR-encodable result. Invoked with the daemon mutex held.
type handlerFunc func(ctx context.Context, params codec.RawMessage) (any, error)

// handler adapts a typed method to the dispatch signature. Absent
// params decode as the zero value; malformed params are a validation
// error before the method runs.
func handler[T any](fn func(context.Context, T) (any, error)) handlerFunc {
	return func(ctx context.Context, params codec.RawMessage) (any, error) {
		var p T
		if len(params) > 0 {
			if err := codec.Unmarshal(params, &p); err != nil {
				return nil, validationErr("malformed params: %v", err)
			}
		}
		return fn(ctx, p)
	}
}

func (d *Daemon) registerHandlers() {
	d.handlers = map[string]handlerFunc{
		"device.getState":                      handler(d.rpcDeviceGetState),
		"device.getLabel":                      handler(d.rpcDeviceGetLabel),
		"device.setLabel":                      handler(d.rpcDeviceSetLabel),
		"device.wantHardwareUpgrade":           handler(d.rpcDeviceWantHardwareUpgrade),
		"device.setHardwareCredential":         handler(d.rpcDeviceSetHardwareCredential),
		"device.noteHardwareCredentialSkipped": handler(d.rpcDeviceNoteHardwareCredentialSkipped),
		"device.revoke":                        handler(d.rpcDeviceRevoke),

		"identity.get":         handler(d.rpcIdentityGet),
		"identity.create":      handler(d.rpcIdentityCreate),
		"identity.setLabel":    handler(d.rpcIdentitySetLabel),
		"identity.newPairCode": handler(d.rpcIdentityNewPairCode),
		"identity.requestPair": handler(d.rpcIdentityRequestPair),

		"pairing.list":    handler(d.rpcPairingList),
		"pairing.approve": handler(d.rpcPairingApprove),
		"pairing.reject":  handler(d.rpcPairingReject),
		"pairing.dismiss": handler(d.rpcPairingDismiss),

		"profile.get": handler(d.rpcProfileGet),
		"profile.set": handler(d.rpcProfileSet),

		"notifications.list":   handler(d.rpcNotificationsList),
		"notifications.read":   handler(d.rpcNotificationsRead),
		"notifications.remove": handler(d.rpcNotificationsRemove),
		"notifications.clear":  handler(d.rpcNotificationsClear),

		"blocked.list":   handler(d.rpcBlockedList),
		"blocked.remove": handler(d.rpcBlockedRemove),

		"zones.list":             handler(d.rpcZonesList),
		"zones.add":              handler(d.rpcZonesAdd),
		"zones.join":             handler(d.rpcZonesJoin),
		"zones.leave":            handler(d.rpcZonesLeave),
		"zones.meta.request":     handler(d.rpcZonesMetaRequest),
		"zones.list.request":     handler(d.rpcZonesListRequest),
		"zones.pendingKey.set":   handler(d.rpcZonesPendingKeySet),
		"zones.pendingKey.get":   handler(d.rpcZonesPendingKeyGet),
		"zones.pendingKey.clear": handler(d.rpcZonesPendingKeyClear),

		"directory.list": handler(d.rpcDirectoryList),

		"chat.open": handler(d.rpcChatOpen),
		"chat.list": handler(d.rpcChatList),
		"chat.send": handler(d.rpcChatSend),

		"swarm.identity.record":   handler(d.rpcSwarmIdentityRecord),
		"swarm.device.record":     handler(d.rpcSwarmDeviceRecord),
		"swarm.put":               handler(d.rpcSwarmPut),
		"swarm.get":               handler(d.rpcSwarmGet),
		"swarm.list":              handler(d.rpcSwarmList),
		"swarm.discovery.publish": handler(d.rpcSwarmDiscoveryPublish),
		"swarm.discovery.request": handler(d.rpcSwarmDiscoveryRequest),
		"swarm.signal.send":       handler(d.rpcSwarmSignalSend),

		"relay.status": handler(d.rpcRelayStatus),
		"relay.rx":     handler(d.rpcRelayRx),
		"relay.tx":     handler(d.rpcRelayTx),
	}
}

// Dispatch runs one RPC. Methods execute under the daemon mutex, so
// callers get the same serialization guarantee as inbound ingest.
func (d *Daemon) Dispatch(ctx context.Context, method string, params codec.RawMessage) (any, error) {
	fn, ok := d.handlers[method]
	if !ok {
		return nil, &RPCError{Code: CodeUnknownMethod, Message: "unknown method " + method}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(ctx, params)
}
