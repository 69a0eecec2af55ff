package obd

import (
	"bytes"
	"errors"
	"obd-emulator/internal/models"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		dlc  uint8
		err  error
	}{
		{"empty", nil, 0, nil},
		{"request", []byte{0x02, 0x01, 0x0C}, 3, nil},
		{"full", []byte{0x10, 0x37, 0x61, 0x01, 1, 2, 3, 4}, 8, nil},
		{"too long", make([]byte, 9), 0, ErrInvalidLength},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := EncodeFrame(0x7E8, tc.data)
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if err != nil {
				return
			}
			if f.ID != 0x7E8 || f.DLC != tc.dlc {
				t.Errorf("frame = %s", f)
			}
			if !bytes.Equal(f.Payload(), tc.data) && len(tc.data) > 0 {
				t.Errorf("payload = % 02X, want % 02X", f.Payload(), tc.data)
			}
			for i := len(tc.data); i < models.MaxDataLength; i++ {
				if f.Data[i] != 0 {
					t.Errorf("filler byte %d = 0x%02X, want 0", i, f.Data[i])
				}
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	f := models.CANFrame{ID: BroadcastRequestID, DLC: 8, Data: [8]byte{0x02, 0x01, 0x0C}}
	req, err := DecodeRequest(f)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req != (Request{Service: 0x01, PID: 0x0C}) {
		t.Errorf("request = %s", req)
	}

	for _, dlc := range []uint8{0, 1} {
		f.DLC = dlc
		if _, err := DecodeRequest(f); !errors.Is(err, ErrFrameTooShort) {
			t.Errorf("DLC %d: err = %v, want ErrFrameTooShort", dlc, err)
		}
	}
}

func TestFrameString(t *testing.T) {
	f := models.CANFrame{ID: 0x7E8, DLC: 3, Data: [8]byte{0x02, 0x41, 0x0C, 0xFF}}
	if got, want := f.String(), "0x7E8 [3] 02 41 0C"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
