package hid

import "testing"

func TestReportMapDeclaresBothReportIDs(t *testing.T) {
	foundKeyboard, foundConsumer := false, false
	for i := 0; i < len(ReportMap)-1; i++ {
		if ReportMap[i] == 0x85 {
			switch ReportMap[i+1] {
			case KeyboardReportID:
				foundKeyboard = true
			case ConsumerReportID:
				foundConsumer = true
			}
		}
	}
	if !foundKeyboard || !foundConsumer {
		t.Fatalf("report map missing report-id declarations: keyboard=%v consumer=%v", foundKeyboard, foundConsumer)
	}
}

func TestEncodeKeyboardPlacesUsageAtIndex2(t *testing.T) {
	r := EncodeKeyboard(0x28)
	for i, b := range r {
		if i == 2 {
			if b != 0x28 {
				t.Fatalf("index 2 = %#x, want 0x28", b)
			}
			continue
		}
		if b != 0 {
			t.Fatalf("index %d = %#x, want 0", i, b)
		}
	}
}

func TestEncodeConsumerLittleEndian(t *testing.T) {
	r := EncodeConsumer(0x03FF)
	if r != [2]byte{0xFF, 0x03} {
		t.Fatalf("got %v", r)
	}
}
