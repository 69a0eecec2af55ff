package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"obd-emulator/internal/models"
	"obd-emulator/internal/obd"
	"os"
	"testing"
	"time"
)

type fakeStore struct {
	frames  []models.CANMessageResponse
	count   uint64
	health  models.BusHealth
	err     error
	pingErr error

	lastParams models.QueryParams
}

func (s *fakeStore) Name() string                   { return "fake" }
func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) Frames(ctx context.Context, params models.QueryParams) ([]models.CANMessageResponse, error) {
	s.lastParams = params
	return s.frames, s.err
}

func (s *fakeStore) CountFrames(ctx context.Context, params models.QueryParams) (uint64, error) {
	s.lastParams = params
	return s.count, s.err
}

func (s *fakeStore) LatestHealth(ctx context.Context, iface string) (models.BusHealth, error) {
	return s.health, s.err
}

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, store *fakeStore) http.Handler {
	t.Helper()
	server, err := NewServer(ServerConfig{Port: 0, Store: store})
	if err != nil {
		t.Fatalf("new server failed: %v", err)
	}
	return server.Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetFrames(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{frames: []models.CANMessageResponse{
		frameResponse(ts, "vcan0", "tx", 0x7E8, []uint8{0x02, 0x41, 0x0C, 0x14, 0x00, 0x00, 0x00, 0x00}),
	}}
	h := newTestServer(t, store)

	rec := get(t, h, "/api/journal/frames?can_id=0x7E8&direction=TX&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var frames []models.CANMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &frames); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(frames) != 1 || frames[0].CANIDHex != "0x7E8" || frames[0].DataHex != "02 41 0C 14 00 00 00 00" {
		t.Errorf("frames = %+v", frames)
	}

	p := store.lastParams
	if p.CANID == nil || *p.CANID != 0x7E8 || p.Direction != "tx" || p.Limit != 5 {
		t.Errorf("params = %+v", p)
	}
}

func TestGetFramesBadRequest(t *testing.T) {
	h := newTestServer(t, &fakeStore{})

	for _, target := range []string{
		"/api/journal/frames?start_time=yesterday",
		"/api/journal/frames?can_id=0xZZ",
		"/api/journal/frames?direction=sideways",
		"/api/journal/frames?limit=-1",
		"/api/journal/count?offset=x",
	} {
		if rec := get(t, h, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestGetFrameCount(t *testing.T) {
	h := newTestServer(t, &fakeStore{count: 42})

	rec := get(t, h, "/api/journal/count?direction=rx")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["count"] != 42 {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestStoreErrors(t *testing.T) {
	h := newTestServer(t, &fakeStore{err: errors.New("connection refused")})
	if rec := get(t, h, "/api/journal/frames"); rec.Code != http.StatusInternalServerError {
		t.Errorf("frames status = %d, want 500", rec.Code)
	}

	h = newTestServer(t, &fakeStore{err: ErrNotSupported})
	if rec := get(t, h, "/api/bus/health"); rec.Code != http.StatusNotImplemented {
		t.Errorf("bus health status = %d, want 501", rec.Code)
	}
}

func TestGetBusHealth(t *testing.T) {
	h := newTestServer(t, &fakeStore{health: models.BusHealth{Interface: "can0", State: "UP", BusState: "ERROR-ACTIVE"}})

	rec := get(t, h, "/api/bus/health?interface=can0")
	var health models.BusHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if health.BusState != "ERROR-ACTIVE" {
		t.Errorf("health = %+v", health)
	}
}

func TestHealth(t *testing.T) {
	if rec := get(t, newTestServer(t, &fakeStore{}), "/health"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec := get(t, newTestServer(t, &fakeStore{pingErr: errors.New("down")}), "/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGetPIDs(t *testing.T) {
	rec := get(t, newTestServer(t, &fakeStore{}), "/api/pids")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		PIDs      []pidResponse     `json:"pids"`
		Supported map[string]string `json:"supported"`
		VIN       string            `json:"vin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.PIDs) != len(obd.DefaultPIDRules) {
		t.Errorf("%d pids, want %d", len(body.PIDs), len(obd.DefaultPIDRules))
	}
	if body.Supported["0x00"] != "183B8001" {
		t.Errorf("supported = %v", body.Supported)
	}
	if body.VIN != obd.DefaultVIN {
		t.Errorf("vin = %q", body.VIN)
	}
}

func TestRootAndCORS(t *testing.T) {
	h := newTestServer(t, &fakeStore{})

	if rec := get(t, h, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/journal/frames", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight status = %d, headers = %v", rec.Code, rec.Header())
	}
}

func TestNewServerRequiresStore(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("expected error without a store")
	}
}
