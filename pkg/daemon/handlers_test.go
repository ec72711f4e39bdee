package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"periph.io/x/conn/v3/gpio"

	"github.com/Pcarioca/Raspberry-Control/pkg/board"
	"github.com/Pcarioca/Raspberry-Control/pkg/config"
	"github.com/Pcarioca/Raspberry-Control/pkg/events"
	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
	"github.com/Pcarioca/Raspberry-Control/pkg/telemetry"
	"github.com/Pcarioca/Raspberry-Control/pkg/utils/ptr"
)

type fixedDevice struct {
	mu     sync.Mutex
	sample imu.Sample
}

func (d *fixedDevice) Read() (imu.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sample, nil
}

func (d *fixedDevice) Close() error { return nil }

func deviceOpener(s imu.Sample) imu.Opener {
	dev := &fixedDevice{sample: s}
	return func() (imu.Device, error) { return dev, nil }
}

func missingOpener() (imu.Device, error) {
	return nil, errors.New("no device at 0x68")
}

type testRig struct {
	router   *gin.Engine
	servoPin *board.SimPin
	ledPin   *board.SimPin
}

func setupTestDaemon(t *testing.T, open imu.Opener) *testRig {
	t.Helper()

	hwSleep = func(time.Duration) {}
	conf = config.NewFileFromConfig(&config.RawFileConfig{
		Simulate: ptr.To(true),
	}, "")

	sp, lp := board.NewSimPin("servo"), board.NewSimPin("led")
	setupHardware(&board.Board{Servo: sp, Led: lp, IMUOpener: open})
	t.Cleanup(func() {
		schedules.Stop()
		closeHardware()
		hwSleep = nil
	})

	return &testRig{router: setupRoutes(), servoPin: sp, ledPin: lp}
}

func (r *testRig) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	r.router.ServeHTTP(w, req)

	var got map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, got
}

func TestRotate(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	for _, tc := range []struct {
		path      string
		wantCode  int
		wantAngle float64
	}{
		{path: "/rotate/45", wantCode: http.StatusOK, wantAngle: 45},
		{path: "/rotate/0", wantCode: http.StatusOK, wantAngle: 0},
		{path: "/rotate/180", wantCode: http.StatusOK, wantAngle: 180},
		{path: "/rotate/181", wantCode: http.StatusBadRequest},
		{path: "/rotate/-1", wantCode: http.StatusBadRequest},
		{path: "/rotate/left", wantCode: http.StatusBadRequest},
	} {
		code, body := r.do(t, http.MethodGet, tc.path, "")
		if code != tc.wantCode {
			t.Errorf("%s: code = %d, want %d", tc.path, code, tc.wantCode)
			continue
		}
		if code == http.StatusOK {
			if body["ok"] != true || body["angle"] != tc.wantAngle {
				t.Errorf("%s: body = %v", tc.path, body)
			}
		} else if body["ok"] != false || body["error"] != "Angle must be 0-180" {
			t.Errorf("%s: body = %v", tc.path, body)
		}
	}
	if servoDrv.CurrentAngle() != 180 {
		t.Fatalf("CurrentAngle() = %d after rejected requests", servoDrv.CurrentAngle())
	}
}

func TestGpio(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	code, body := r.do(t, http.MethodGet, "/gpio/on", "")
	if code != http.StatusOK || body["led"] != "on" || r.ledPin.Level() != gpio.High {
		t.Fatalf("on: code %d body %v level %v", code, body, r.ledPin.Level())
	}
	code, body = r.do(t, http.MethodGet, "/gpio/off", "")
	if code != http.StatusOK || body["led"] != "off" || r.ledPin.Level() != gpio.Low {
		t.Fatalf("off: code %d body %v level %v", code, body, r.ledPin.Level())
	}

	r.ledPin.FailWith = errors.New("gpio gone")
	if code, _ := r.do(t, http.MethodGet, "/gpio/on", ""); code != http.StatusInternalServerError {
		t.Fatalf("write failure: code = %d", code)
	}
}

func TestLedPattern(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	code, body := r.do(t, http.MethodGet, "/led/sos", "")
	if code != http.StatusOK || body["pattern"] != "sos" {
		t.Fatalf("first: code %d body %v", code, body)
	}
	code, body = r.do(t, http.MethodGet, "/led/pulse", "")
	if code != http.StatusTooManyRequests || body["error"] != "Pattern throttled" {
		t.Fatalf("second: code %d body %v", code, body)
	}
	if code, _ := r.do(t, http.MethodGet, "/led/disco", ""); code != http.StatusNotFound {
		t.Fatalf("unknown: code = %d", code)
	}
	if r.ledPin.Level() != gpio.Low {
		t.Fatal("LED left on")
	}
}

func TestServoRoutines(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	for _, tc := range []struct {
		path     string
		wantCode int
		wantName string
	}{
		{path: "/wave", wantCode: http.StatusOK, wantName: "wave"},
		{path: "/servo/jitter", wantCode: http.StatusOK, wantName: "jitter"},
		{path: "/servo/rain-drop", wantCode: http.StatusOK, wantName: "rain-drop"},
		{path: "/servo/moonwalk", wantCode: http.StatusNotFound},
	} {
		code, body := r.do(t, http.MethodGet, tc.path, "")
		if code != tc.wantCode {
			t.Errorf("%s: code = %d, want %d", tc.path, code, tc.wantCode)
			continue
		}
		if tc.wantName != "" && body["routine"] != tc.wantName {
			t.Errorf("%s: body = %v", tc.path, body)
		}
	}
}

func TestCombo(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	code, body := r.do(t, http.MethodGet, "/combo/alarm", "")
	if code != http.StatusOK || body["combo"] != "alarm" {
		t.Fatalf("code %d body %v", code, body)
	}
	if code, _ := r.do(t, http.MethodGet, "/combo/rave", ""); code != http.StatusNotFound {
		t.Fatalf("unknown combo: code = %d", code)
	}

	ev := waitEvent(t, ch, events.RoutineRun)
	payload, err := events.DecodeAs[events.RoutineRunEvent](ev)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Kind != "combo" || payload.Name != "alarm" || !payload.OK {
		t.Fatalf("event = %+v", payload)
	}
}

func waitEvent(t *testing.T, ch chan events.Event, name string) events.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", name)
		}
	}
}

func TestGyroUnavailable(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	for _, path := range []string{
		"/gyro/raw", "/gyro/angles", "/gyro/update", "/gyro/magnitude",
		"/gyro/freefall", "/gyro/stabilityCheck", "/gyro/fun/tilt-servo-map",
	} {
		code, body := r.do(t, http.MethodGet, path, "")
		if code != http.StatusServiceUnavailable {
			t.Errorf("%s: code = %d, want 503", path, code)
			continue
		}
		if body["title"] != "MPU-6050 sensor unavailable" || body["status"] != float64(503) {
			t.Errorf("%s: body = %v", path, body)
		}
	}

	code, body := r.do(t, http.MethodGet, "/gyro/status", "")
	if code != http.StatusOK || body["available"] != false || body["lastError"] == nil {
		t.Fatalf("status: code %d body %v", code, body)
	}

	waitEvent(t, ch, events.IMUState)
}

func TestGyroUnexpected(t *testing.T) {
	r := setupTestDaemon(t, func() (imu.Device, error) {
		return nil, &imu.UnexpectedError{Op: "configure", Cause: errors.New("bad range")}
	})

	code, body := r.do(t, http.MethodGet, "/gyro/raw", "")
	if code != http.StatusInternalServerError || body["title"] != "Unexpected MPU-6050 error" {
		t.Fatalf("code %d body %v", code, body)
	}
}

func TestGyroAvailable(t *testing.T) {
	r := setupTestDaemon(t, deviceOpener(imu.Sample{Az: 1, Gx: 3, Gy: 4}))

	for _, tc := range []struct {
		path string
		key  string
		want any
	}{
		{path: "/gyro/raw", key: "az", want: float64(1)},
		{path: "/gyro/magnitude", key: "magnitude", want: float64(5)},
		{path: "/gyro/freefall", key: "freefall", want: false},
		{path: "/gyro/stabilityCheck", key: "stable", want: false},
		{path: "/gyro/fun/level-guard", key: "ok", want: true},
	} {
		code, body := r.do(t, http.MethodGet, tc.path, "")
		if code != http.StatusOK || body[tc.key] != tc.want {
			t.Errorf("%s: code %d body %v, want %s=%v", tc.path, code, body, tc.key, tc.want)
		}
	}

	code, body := r.do(t, http.MethodGet, "/gyro/angles", "")
	if code != http.StatusOK {
		t.Fatalf("angles: code %d", code)
	}
	if _, ok := body["pitch"]; !ok {
		t.Fatalf("angles body = %v", body)
	}

	code, body = r.do(t, http.MethodPut, "/gyro/reset", "")
	if code != http.StatusOK || body["state"] != "uninitialized" {
		t.Fatalf("reset: code %d body %v", code, body)
	}

	if code, _ := r.do(t, http.MethodGet, "/gyro/fun/backflip", ""); code != http.StatusNotFound {
		t.Fatalf("unknown gyro routine: code = %d", code)
	}
}

func TestUnknownRoutinesAreNotDispatched(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	for _, path := range []string{"/servo/moonwalk", "/combo/rave", "/gyro/fun/backflip", "/led/disco"} {
		code, body := r.do(t, http.MethodGet, path, "")
		if code != http.StatusNotFound || body["ok"] != false {
			t.Errorf("%s: code %d body %v", path, code, body)
		}
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event %s", ev.Name, ev.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocks(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	release, err := lockMgr.Acquire(context.Background(), locks.Servo)
	if err != nil {
		t.Fatal(err)
	}
	code, body := r.do(t, http.MethodGet, "/locks", "")
	release()

	want := map[string]any{"servo": true, "led": false, "combo": false, "imu": false}
	if code != http.StatusOK || len(body) != len(want) {
		t.Fatalf("code %d body %v", code, body)
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}

	_, body = r.do(t, http.MethodGet, "/locks", "")
	if body["servo"] != false {
		t.Fatalf("servo still held after release: %v", body)
	}
}

func TestPid(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)
	for _, path := range []string{"/pid/start", "/pid/stop"} {
		code, body := r.do(t, http.MethodGet, path, "")
		if code != http.StatusOK || body["ok"] != false || body["message"] != "PID not implemented yet" {
			t.Errorf("%s: code %d body %v", path, code, body)
		}
	}
}

func TestInfoEndpoints(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)

	code, body := r.do(t, http.MethodGet, "/routines", "")
	if code != http.StatusOK || len(body["servo"].([]any)) != 16 || len(body["combo"].([]any)) != 7 {
		t.Fatalf("routines: code %d body %v", code, body)
	}

	code, body = r.do(t, http.MethodGet, "/config", "")
	if code != http.StatusOK || body["listenAddress"] != ":5000" || body["simulate"] != true {
		t.Fatalf("config: code %d body %v", code, body)
	}

	code, body = r.do(t, http.MethodGet, "/version", "")
	if code != http.StatusOK || body["version"] == nil {
		t.Fatalf("version: code %d body %v", code, body)
	}
}

func TestSchedules(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)
	schedules.Apply([]config.Schedule{
		{Cron: "@every 1h", Routine: "servo/wave"},
		{Cron: "bogus", Routine: "led/sos"},
		{Cron: "@daily", Routine: "combo/party"},
	})

	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schedules", nil))
	var list []ScheduleStatus
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Routine != "servo/wave" || list[1].Routine != "combo/party" {
		t.Fatalf("schedules = %+v", list)
	}

	code, body := r.do(t, http.MethodPut, "/schedules/0/skip", "")
	if code != http.StatusCreated {
		t.Fatalf("skip: code %d", code)
	}
	if next, _ := time.Parse(time.RFC3339Nano, body["nextRun"].(string)); !next.After(list[0].NextRun) {
		t.Fatalf("skip did not advance: %v", body)
	}

	if code, _ := r.do(t, http.MethodPut, "/schedules/1/postpone", `"1m"`); code != http.StatusCreated {
		t.Fatalf("postpone: code %d", code)
	}
	if code, _ := r.do(t, http.MethodPut, "/schedules/1/postpone", `"soon"`); code != http.StatusBadRequest {
		t.Fatalf("bad duration: code %d", code)
	}
	if code, _ := r.do(t, http.MethodPut, "/schedules/9/skip", ""); code != http.StatusNotFound {
		t.Fatalf("missing schedule: code %d", code)
	}
}

func TestStreamEvents(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)
	srv := httptest.NewServer(r.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for sseHub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("events handler never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	sseHub.Publish(events.RoutineRun, events.RoutineRunEvent{Kind: "led", Name: "sos", OK: true})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, ":") {
			continue
		}
		if line == "" && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
	}
	got := strings.Join(lines, "\n")
	if !strings.Contains(got, "event:"+events.RoutineRun) || !strings.Contains(got, `"name":"sos"`) {
		t.Fatalf("stream = %q", got)
	}
}

func TestStreamEventsIdle(t *testing.T) {
	r := setupTestDaemon(t, missingOpener)
	srv := httptest.NewServer(r.router)
	defer srv.Close()

	orig := sseKeepalive
	sseKeepalive = 20 * time.Millisecond
	t.Cleanup(func() { sseKeepalive = orig })

	// Nothing is published: headers alone must arrive before the timeout.
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events on an idle daemon: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control = %q", cc)
	}

	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() || sc.Text() != ": keepalive" {
		t.Fatalf("first line = %q, %v", sc.Text(), sc.Err())
	}
}

func TestStreamOrientation(t *testing.T) {
	r := setupTestDaemon(t, deviceOpener(imu.Sample{Az: 1}))
	srv := httptest.NewServer(r.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/orientation", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var p telemetry.Point
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatal(err)
	}
	if p.Ts == 0 || p.Pitch != 0 || p.Roll != 0 {
		t.Fatalf("point = %+v", p)
	}
}
