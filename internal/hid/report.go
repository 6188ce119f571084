// Package hid holds the fixed HID-over-GATT report map and the
// stateless (usage, code) -> byte-report encoder described in spec
// §4.1/§4.3.
package hid

// Usage selects which report channel a code belongs to.
type Usage string

const (
	Keyboard Usage = "keyboard"
	Consumer Usage = "consumer"
)

// ReportMap is the bit-exact HID report descriptor declaring two
// top-level collections: report ID 1 (boot keyboard, 8 modifier bits +
// 1 reserved byte + 6 key slots 0x00-0x65) and report ID 2 (consumer
// control, one 16-bit array usage 0x0000-0x03FF). The peer caches this
// byte sequence verbatim; it must never be mutated at runtime.
var ReportMap = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x85, 0x01, //   Report ID (1)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0xE0, //   Usage Minimum (Keyboard LeftControl)
	0x29, 0xE7, //   Usage Maximum (Keyboard Right GUI)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data,Var,Abs) -- 8 modifier bits
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Cnst,Ary,Abs) -- reserved byte
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0x00, //   Usage Minimum (Reserved)
	0x29, 0x65, //   Usage Maximum (Keyboard Application)
	0x81, 0x00, //   Input (Data,Ary,Abs) -- 6 key slots
	0xC0, // End Collection

	0x05, 0x0C, // Usage Page (Consumer)
	0x09, 0x01, // Usage (Consumer Control)
	0xA1, 0x01, // Collection (Application)
	0x85, 0x02, //   Report ID (2)
	0x19, 0x00, //   Usage Minimum (0)
	0x2A, 0xFF, 0x03, //   Usage Maximum (0x03FF)
	0x15, 0x00, //   Logical Minimum (0)
	0x26, 0xFF, 0x03, //   Logical Maximum (0x03FF)
	0x75, 0x10, //   Report Size (16)
	0x95, 0x01, //   Report Count (1)
	0x81, 0x00, //   Input (Data,Ary,Abs) -- 16-bit array usage
	0xC0, // End Collection
}

const (
	// KeyboardReportID and ConsumerReportID identify the two
	// top-level collections declared in ReportMap.
	KeyboardReportID = 1
	ConsumerReportID = 2

	// KeyboardReportLen and ConsumerReportLen are the fixed
	// notification payload sizes (excluding any report-ID byte that a
	// given characteristic instance may or may not prefix).
	KeyboardReportLen = 8
	ConsumerReportLen = 2
)

// KeyboardRelease and ConsumerRelease are the all-zero release reports
// used to clear the peer's key state (§4.1 stop(), §4.3 unknown code).
var (
	KeyboardRelease = [KeyboardReportLen]byte{}
	ConsumerRelease = [ConsumerReportLen]byte{}
)

// EncodeKeyboard places usage in byte index 2 of an 8-byte boot-keyboard
// report; modifiers and reserved byte are always zero, and the
// remaining key slots are always zero, per spec §4.3/§3 (a single usage
// per report, no modifier keys, no rollover).
func EncodeKeyboard(usage uint8) [KeyboardReportLen]byte {
	var r [KeyboardReportLen]byte
	r[2] = usage
	return r
}

// EncodeConsumer packs a 16-bit consumer usage little-endian into a
// 2-byte report, per spec §3/§4.3.
func EncodeConsumer(usage uint16) [ConsumerReportLen]byte {
	return [ConsumerReportLen]byte{byte(usage & 0xFF), byte(usage >> 8 & 0xFF)}
}
