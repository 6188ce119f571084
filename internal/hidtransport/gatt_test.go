package hidtransport

import "testing"

func TestCharacteristicNotNotifyingByDefault(t *testing.T) {
	c := &gattCharacteristic{uuid: "2a4d"}
	if c.isNotifying() {
		t.Fatal("expected not notifying by default")
	}
}

func TestStartStopNotifyToggles(t *testing.T) {
	c := &gattCharacteristic{uuid: "2a4d"}
	if err := c.StartNotify(); err != nil {
		t.Fatal(err)
	}
	if !c.isNotifying() {
		t.Fatal("expected notifying after StartNotify")
	}
	if err := c.StopNotify(); err != nil {
		t.Fatal(err)
	}
	if c.isNotifying() {
		t.Fatal("expected not notifying after StopNotify")
	}
}

func TestWriteValueUpdatesReadValue(t *testing.T) {
	c := &gattCharacteristic{uuid: "2a4c"}
	if err := c.WriteValue([]byte{0x01, 0x02}, nil); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadValue(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 0x01 || got[1] != 0x02 {
		t.Fatalf("got %v", got)
	}
}

func TestNotifyNoopWhenNotSubscribed(t *testing.T) {
	c := &gattCharacteristic{uuid: "2a4d", value: []byte{0, 0}}
	if err := c.notify([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	got, _ := c.ReadValue(nil)
	if got[0] != 1 || got[1] != 2 {
		t.Fatal("value should still update even without a live notify send")
	}
}
