package obd

import (
	"bytes"
	"io"
	"log"
	"obd-emulator/internal/isotp"
	"obd-emulator/internal/models"
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	return s
}

func frame(id uint32, data ...byte) models.CANFrame {
	f := models.CANFrame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

func expectFrame(t *testing.T, got Outbound, id uint32, data ...byte) {
	t.Helper()
	if got.Frame.ID != id || got.Frame.DLC != 8 {
		t.Errorf("frame = %s, want ID 0x%03X DLC 8", got.Frame, id)
		return
	}
	if !bytes.Equal(got.Frame.Data[:len(data)], data) {
		t.Errorf("frame data\nwant: % 02X\ngot:  % 02X", data, got.Frame.Data[:len(data)])
	}
}

func TestServiceOneRPMScenario(t *testing.T) {
	s := newTestSession(t)

	out := s.Handle(frame(BroadcastRequestID, 0x02, 0x01, 0x0C, 0, 0, 0, 0, 0))
	if len(out) != 1 {
		t.Fatalf("%d frames, want 1", len(out))
	}
	expectFrame(t, out[0], ECUResponseID, 0x02, 0x41, 0x0C, 0x14, 0x00)
	if out[0].Delay != 0 {
		t.Errorf("delay = %v, want 0", out[0].Delay)
	}
	if s.State() != isotp.StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestShortFrameIsIgnored(t *testing.T) {
	s := newTestSession(t)
	if out := s.Handle(frame(BroadcastRequestID, 0x02)); out != nil {
		t.Errorf("expected no response, got %v", out)
	}
}

func TestUnsupportedRequestsAreIgnored(t *testing.T) {
	s := newTestSession(t)

	tests := []struct {
		name string
		f    models.CANFrame
	}{
		{"unknown service", frame(BroadcastRequestID, 0x02, 0x03, 0x00, 0, 0, 0, 0, 0)},
		{"unknown PID", frame(BroadcastRequestID, 0x02, 0x01, 0x99, 0, 0, 0, 0, 0)},
		{"unknown vehicle info PID", frame(BroadcastRequestID, 0x02, 0x09, 0x0A, 0, 0, 0, 0, 0)},
		{"unsupported PID range", frame(BroadcastRequestID, 0x02, 0x01, 0x60, 0, 0, 0, 0, 0)},
		{"unknown vendor request", frame(VendorRequestID, 0x02, 0x21, 0x02, 0, 0, 0, 0, 0)},
		{"short vendor request", frame(VendorRequestID, 0x02, 0x21)},
		{"other identifier", frame(0x123, 0x02, 0x01, 0x0C, 0, 0, 0, 0, 0)},
		{"response identifier", frame(ECUResponseID, 0x02, 0x41, 0x0C, 0, 0, 0, 0, 0)},
		{"non flow control on 0x7E0", frame(ECUFlowControlID, 0x02, 0x01, 0x0C, 0, 0, 0, 0, 0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if out := s.Handle(tc.f); out != nil {
				t.Errorf("expected no response, got %v", out)
			}
		})
	}
}

func TestSupportedPIDsQuery(t *testing.T) {
	s := newTestSession(t)
	out := s.Handle(frame(BroadcastRequestID, 0x02, 0x01, 0x00, 0, 0, 0, 0, 0))
	if len(out) != 1 {
		t.Fatalf("%d frames, want 1", len(out))
	}
	expectFrame(t, out[0], ECUResponseID, 0x06, 0x41, 0x00, 0x18, 0x3B, 0x80, 0x01, 0x00)
}

func TestBatteryHealthScenario(t *testing.T) {
	s := newTestSession(t)

	out := s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))
	if len(out) != 1 {
		t.Fatalf("%d frames, want 1", len(out))
	}
	expectFrame(t, out[0], VendorResponseID, 0x10, 0x37, 0x61, 0x01)
	if s.State() != isotp.StateAwaitingFirstFlowControl {
		t.Fatalf("state = %s, want awaiting", s.State())
	}

	var r isotp.Reassembler
	if _, err := r.Feed(out[0].Frame.Payload()); err != nil {
		t.Fatalf("feed first frame: %v", err)
	}

	cfs := s.Handle(frame(VendorFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0))
	if len(cfs) != 7 {
		t.Fatalf("%d consecutive frames, want 7", len(cfs))
	}

	var msg []byte
	for i, o := range cfs {
		if o.Frame.ID != VendorResponseID {
			t.Errorf("frame %d ID = 0x%03X", i, o.Frame.ID)
		}
		if o.Frame.Data[0] != byte(0x21+i) {
			t.Errorf("frame %d PCI = 0x%02X, want 0x%02X", i, o.Frame.Data[0], 0x21+i)
		}
		if o.Delay != 0 {
			t.Errorf("frame %d delay = %v, want 0", i, o.Delay)
		}
		got, err := r.Feed(o.Frame.Payload())
		if err != nil {
			t.Fatalf("feed frame %d: %v", i, err)
		}
		msg = got
	}
	if !bytes.Equal(msg, DefaultBatteryStatus().Encode()) {
		t.Errorf("reassembled battery payload differs\ngot: % 02X", msg)
	}
	if s.State() != isotp.StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}

	if out := s.Handle(frame(VendorFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0)); out != nil {
		t.Errorf("flow control after completion produced %v", out)
	}
}

func TestBatteryHealthBlockSizeOne(t *testing.T) {
	s := newTestSession(t)
	s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))

	for i := 0; i < 7; i++ {
		out := s.Handle(frame(VendorFlowControlID, 0x30, 0x01, 0x0A, 0, 0, 0, 0, 0))
		if len(out) != 1 {
			t.Fatalf("directive %d: %d frames, want 1", i, len(out))
		}
		if out[0].Frame.Data[0] != byte(0x21+i) {
			t.Errorf("directive %d: PCI = 0x%02X", i, out[0].Frame.Data[0])
		}
	}
	if s.State() != isotp.StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestBatteryHealthSeparationTime(t *testing.T) {
	s := newTestSession(t)
	s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))

	out := s.Handle(frame(VendorFlowControlID, 0x30, 0x04, 0x14, 0, 0, 0, 0, 0))
	if len(out) != 4 {
		t.Fatalf("%d frames, want 4", len(out))
	}
	for i, o := range out {
		want := 20 * time.Millisecond
		if i == 0 {
			want = 0
		}
		if o.Delay != want {
			t.Errorf("frame %d delay = %v, want %v", i, o.Delay, want)
		}
	}
	if s.State() != isotp.StatePaused {
		t.Errorf("state = %s, want paused", s.State())
	}
}

func TestVINExchange(t *testing.T) {
	s := newTestSession(t)

	out := s.Handle(frame(BroadcastRequestID, 0x02, 0x09, 0x02, 0, 0, 0, 0, 0))
	if len(out) != 1 {
		t.Fatalf("%d frames, want 1", len(out))
	}
	expectFrame(t, out[0], ECUResponseID, 0x10, 0x14, 0x49, 0x02, 0x01, 0x33, 0x46, 0x41)

	if out := s.Handle(frame(VendorFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0)); out != nil {
		t.Fatalf("flow control on the vendor identifier drove the VIN transfer: %v", out)
	}

	out = s.Handle(frame(ECUFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0))
	if len(out) != 2 {
		t.Fatalf("%d frames, want 2", len(out))
	}
	expectFrame(t, out[0], ECUResponseID, 0x21, 0x44, 0x50, 0x34, 0x46, 0x4A, 0x32, 0x42)
	expectFrame(t, out[1], ECUResponseID, 0x22, 0x4D, 0x31, 0x31, 0x33, 0x39, 0x31, 0x33)
}

func TestVehicleInfoSupported(t *testing.T) {
	s := newTestSession(t)
	out := s.Handle(frame(BroadcastRequestID, 0x02, 0x09, 0x00, 0, 0, 0, 0, 0))
	if len(out) != 1 {
		t.Fatalf("%d frames, want 1", len(out))
	}
	expectFrame(t, out[0], ECUResponseID, 0x06, 0x49, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00)
}

func TestOverflowAbortThenFlowControlIsNoop(t *testing.T) {
	s := newTestSession(t)
	s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))

	if out := s.Handle(frame(VendorFlowControlID, 0x30, 0x02, 0x00, 0, 0, 0, 0, 0)); len(out) != 2 {
		t.Fatalf("%d frames, want 2", len(out))
	}
	if out := s.Handle(frame(VendorFlowControlID, 0x32, 0x00, 0x00, 0, 0, 0, 0, 0)); out != nil {
		t.Fatalf("overflow produced %v", out)
	}
	if s.State() != isotp.StateIdle {
		t.Fatalf("state = %s, want idle", s.State())
	}
	if out := s.Handle(frame(VendorFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0)); out != nil {
		t.Errorf("flow control after abort produced %v", out)
	}
}

func TestWaitAndUnrecognizedFlagHoldState(t *testing.T) {
	s := newTestSession(t)
	s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))

	if out := s.Handle(frame(VendorFlowControlID, 0x31, 0x00, 0x00, 0, 0, 0, 0, 0)); out != nil {
		t.Fatalf("wait produced %v", out)
	}
	if out := s.Handle(frame(VendorFlowControlID, 0x3F, 0x00, 0x00, 0, 0, 0, 0, 0)); out != nil {
		t.Fatalf("unrecognized flag produced %v", out)
	}
	if s.State() != isotp.StateAwaitingFirstFlowControl {
		t.Fatalf("state = %s, want awaiting", s.State())
	}
	if out := s.Handle(frame(VendorFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0)); len(out) != 7 {
		t.Errorf("%d frames after wait, want 7", len(out))
	}
}

func TestNewRequestReplacesTransfer(t *testing.T) {
	s := newTestSession(t)
	s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))
	s.Handle(frame(VendorFlowControlID, 0x30, 0x01, 0x00, 0, 0, 0, 0, 0))

	out := s.Handle(frame(BroadcastRequestID, 0x02, 0x01, 0x0D, 0, 0, 0, 0, 0))
	if len(out) != 1 {
		t.Fatalf("%d frames, want 1", len(out))
	}
	if s.State() != isotp.StateIdle {
		t.Fatalf("state = %s, want idle", s.State())
	}
	if out := s.Handle(frame(VendorFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0)); out != nil {
		t.Errorf("stale flow control produced %v", out)
	}

	s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))
	out = s.Handle(frame(VendorFlowControlID, 0x30, 0x00, 0x00, 0, 0, 0, 0, 0))
	if len(out) != 7 || out[0].Frame.Data[0] != 0x21 {
		t.Errorf("restarted transfer = %d frames", len(out))
	}
}

func TestShortFlowControlIsIgnored(t *testing.T) {
	s := newTestSession(t)
	s.Handle(frame(VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0))
	if out := s.Handle(frame(VendorFlowControlID, 0x30, 0x00)); out != nil {
		t.Errorf("short flow control produced %v", out)
	}
	if s.State() != isotp.StateAwaitingFirstFlowControl {
		t.Errorf("state = %s, want awaiting", s.State())
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(SessionConfig{VIN: "SHORT"}); err == nil {
		t.Error("expected error for a short VIN")
	}
	bat := DefaultBatteryStatus()
	bat.StateOfCharge = 120
	if _, err := NewSession(SessionConfig{Battery: bat}); err == nil {
		t.Error("expected error for a state of charge above 100")
	}
}
