package emulator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"obd-emulator/internal/isotp"
	"obd-emulator/internal/models"
	"obd-emulator/internal/obd"
	"sync"
	"testing"
	"time"
)

type sentFrame struct {
	frame models.CANFrame
	at    time.Time
}

type fakeBus struct {
	msgs     chan models.CANMessage
	errs     chan error
	sent     chan sentFrame
	writeErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		msgs: make(chan models.CANMessage, 16),
		errs: make(chan error, 1),
		sent: make(chan sentFrame, 64),
	}
}

func (b *fakeBus) Interface() string                           { return "vcan0" }
func (b *fakeBus) GetMessageChannel() <-chan models.CANMessage { return b.msgs }
func (b *fakeBus) GetErrorChannel() <-chan error               { return b.errs }

func (b *fakeBus) WriteFrame(frame models.CANFrame) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.sent <- sentFrame{frame: frame, at: time.Now()}
	return nil
}

func (b *fakeBus) receive(id uint32, data ...byte) {
	f := models.CANFrame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	b.msgs <- models.CANMessage{Frame: f, Timestamp: time.Now(), Interface: "vcan0", Direction: models.DirectionRX}
}

func (b *fakeBus) next(t *testing.T) sentFrame {
	t.Helper()
	select {
	case s := <-b.sent:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transmitted frame")
		return sentFrame{}
	}
}

type memoryJournal struct {
	mu   sync.Mutex
	msgs []models.CANMessage
}

func (j *memoryJournal) Start()       {}
func (j *memoryJournal) Close() error { return nil }
func (j *memoryJournal) Write(msg models.CANMessage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.msgs = append(j.msgs, msg)
}

func (j *memoryJournal) directions() []models.Direction {
	j.mu.Lock()
	defer j.mu.Unlock()
	var dirs []models.Direction
	for _, m := range j.msgs {
		dirs = append(dirs, m.Direction)
	}
	return dirs
}

func start(t *testing.T, bus *fakeBus, journal *memoryJournal) (context.CancelFunc, <-chan error) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	session, err := obd.NewSession(obd.SessionConfig{Logger: logger})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	cfg := Config{Bus: bus, Handler: session, Logger: logger, Verbose: true}
	if journal != nil {
		cfg.Journal = journal
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new emulator failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func result(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("emulator did not stop")
		return nil
	}
}

func TestRPMRequest(t *testing.T) {
	bus := newFakeBus()
	journal := &memoryJournal{}
	cancel, done := start(t, bus, journal)

	bus.receive(obd.BroadcastRequestID, 0x02, 0x01, 0x0C, 0, 0, 0, 0, 0)

	got := bus.next(t).frame
	want := []byte{0x02, 0x41, 0x0C, 0x14, 0x00, 0x00, 0x00, 0x00}
	if got.ID != obd.ECUResponseID || !bytes.Equal(got.Payload(), want) {
		t.Errorf("response = %s", got)
	}

	cancel()
	if err := result(t, done); err != nil {
		t.Errorf("run returned %v after cancel", err)
	}

	dirs := journal.directions()
	if len(dirs) != 2 || dirs[0] != models.DirectionRX || dirs[1] != models.DirectionTX {
		t.Errorf("journal directions = %v, want [rx tx]", dirs)
	}
}

func TestBatteryTransferOverBus(t *testing.T) {
	bus := newFakeBus()
	_, _ = start(t, bus, nil)

	bus.receive(obd.VendorRequestID, 0x02, 0x21, 0x01, 0, 0, 0, 0, 0)

	var r isotp.Reassembler
	first := bus.next(t).frame
	if first.ID != obd.VendorResponseID || first.Data[0] != 0x10 || first.Data[1] != 0x37 {
		t.Fatalf("first frame = %s", first)
	}
	if _, err := r.Feed(first.Payload()); err != nil {
		t.Fatalf("feed first frame: %v", err)
	}

	bus.receive(obd.VendorFlowControlID, 0x30, 0x00, 0x00)

	var msg []byte
	for i := 0; i < 7; i++ {
		cf := bus.next(t).frame
		if want := byte(0x21 + i); cf.Data[0] != want {
			t.Fatalf("consecutive frame %d PCI = 0x%02X, want 0x%02X", i, cf.Data[0], want)
		}
		out, err := r.Feed(cf.Payload())
		if err != nil {
			t.Fatalf("feed consecutive frame %d: %v", i, err)
		}
		if out != nil {
			msg = out
		}
	}

	if want := obd.DefaultBatteryStatus().Encode(); !bytes.Equal(msg, want) {
		t.Errorf("reassembled message\nwant: % 02X\ngot:  % 02X", want, msg)
	}
}

func TestSeparationTimeIsObserved(t *testing.T) {
	bus := newFakeBus()
	_, _ = start(t, bus, nil)

	bus.receive(obd.VendorRequestID, 0x02, 0x21, 0x01)
	bus.next(t)

	// block of 3, 20 ms apart
	bus.receive(obd.VendorFlowControlID, 0x30, 0x03, 0x14)

	var sent []sentFrame
	for i := 0; i < 3; i++ {
		sent = append(sent, bus.next(t))
	}
	for i := 1; i < len(sent); i++ {
		if gap := sent[i].at.Sub(sent[i-1].at); gap < 20*time.Millisecond {
			t.Errorf("gap before frame %d = %v, want at least 20ms", i, gap)
		}
	}

	select {
	case extra := <-bus.sent:
		t.Errorf("frame sent beyond the block: %s", extra.frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelInterruptsSeparationTime(t *testing.T) {
	bus := newFakeBus()
	cancel, done := start(t, bus, nil)

	bus.receive(obd.VendorRequestID, 0x02, 0x21, 0x01)
	bus.next(t)
	bus.receive(obd.VendorFlowControlID, 0x30, 0x07, 0x7E)
	bus.next(t)

	begin := time.Now()
	cancel()
	if err := result(t, done); err != nil {
		t.Errorf("run returned %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Errorf("shutdown took %v", elapsed)
	}
}

func TestTransportErrors(t *testing.T) {
	errRead := errors.New("network is down")

	t.Run("read", func(t *testing.T) {
		bus := newFakeBus()
		_, done := start(t, bus, nil)
		bus.errs <- errRead
		if err := result(t, done); !errors.Is(err, errRead) {
			t.Errorf("err = %v, want %v", err, errRead)
		}
	})

	t.Run("write", func(t *testing.T) {
		bus := newFakeBus()
		bus.writeErr = errRead
		_, done := start(t, bus, nil)
		bus.receive(obd.BroadcastRequestID, 0x02, 0x01, 0x0D)
		if err := result(t, done); !errors.Is(err, errRead) {
			t.Errorf("err = %v, want %v", err, errRead)
		}
	})

	t.Run("closed", func(t *testing.T) {
		bus := newFakeBus()
		_, done := start(t, bus, nil)
		close(bus.msgs)
		if err := result(t, done); !errors.Is(err, ErrBusClosed) {
			t.Errorf("err = %v, want ErrBusClosed", err)
		}
	})
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Handler: &obd.Session{}}); err == nil {
		t.Error("expected error without a bus")
	}
	if _, err := New(Config{Bus: newFakeBus()}); err == nil {
		t.Error("expected error without a handler")
	}
}
