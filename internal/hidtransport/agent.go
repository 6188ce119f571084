package hidtransport

import (
	"github.com/godbus/dbus/v5"
)

const (
	ifaceAgent        = "org.bluez.Agent1"
	ifaceAgentManager = "org.bluez.AgentManager1"
	agentCapability   = "NoInputNoOutput"
)

// pairingAgent is a no-IO BlueZ pairing agent: every request is
// auto-accepted, matching the headless-peripheral pairing flow spec
// §4.1 expects (the Apple TV host initiates pairing; nothing here
// prompts a human).
type pairingAgent struct{}

func (pairingAgent) Release() *dbus.Error { return nil }

func (pairingAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "0000", nil
}

func (pairingAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, nil
}

func (pairingAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	return nil
}

func (pairingAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

func (pairingAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	return nil
}

func (pairingAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	return nil
}

func (pairingAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (pairingAgent) Cancel() *dbus.Error { return nil }

// registerAgent exports the no-IO pairing agent and asks BlueZ to use
// it as the default agent for this adapter's pairing requests.
func (t *Transport) registerAgent() error {
	if err := t.bus.Export(pairingAgent{}, agentPath, ifaceAgent); err != nil {
		return err
	}
	obj := t.bus.Object("org.bluez", dbus.ObjectPath("/org/bluez"))
	if err := obj.Call(ifaceAgentManager+".RegisterAgent", 0, dbus.ObjectPath(agentPath), agentCapability).Err; err != nil {
		return err
	}
	return obj.Call(ifaceAgentManager+".RequestDefaultAgent", 0, dbus.ObjectPath(agentPath)).Err
}
