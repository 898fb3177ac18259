package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trendscope/trendscope/internal/proxy"
	"github.com/trendscope/trendscope/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	pool := proxy.NewPool(nil, proxy.DefaultOptions(), nil)
	srv := NewServer(st, pool, nil, nil, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, st
}

func seedSetting(t *testing.T, st *store.MemoryStore, platform store.Platform) {
	t.Helper()
	now := time.Now().UTC()
	err := st.UpsertSetting(context.Background(), &store.SchedulerSetting{
		Platform:       platform,
		Enabled:        true,
		FrequencyHours: 6,
		NextRunAt:      &now,
	})
	if err != nil {
		t.Fatalf("seed setting: %v", err)
	}
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListAndGetSettings(t *testing.T) {
	ts, st := newTestServer(t)
	seedSetting(t, st, store.PlatformTikTok)
	seedSetting(t, st, store.PlatformInstagram)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/settings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var views []settingView
	if err := json.Unmarshal(body, &views); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("settings = %d, want 2", len(views))
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/settings/tiktok", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var view settingView
	json.Unmarshal(body, &view)
	if view.Platform != store.PlatformTikTok || view.FrequencyHours != 6 {
		t.Errorf("view = %+v", view)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/settings/myspace", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown platform status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateSettingValidation(t *testing.T) {
	ts, st := newTestServer(t)
	seedSetting(t, st, store.PlatformTikTok)
	url := ts.URL + "/api/v1/settings/tiktok"

	// Below the floor.
	resp, _ := doJSON(t, http.MethodPut, url, map[string]float64{"frequency_hours": 0.1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("0.1h status = %d, want 400", resp.StatusCode)
	}

	// Above the ceiling.
	resp, _ = doJSON(t, http.MethodPut, url, map[string]float64{"frequency_hours": 25})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("25h status = %d, want 400", resp.StatusCode)
	}

	// In range persists.
	resp, body := doJSON(t, http.MethodPut, url, map[string]float64{"frequency_hours": 2.5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("2.5h status = %d, body %s", resp.StatusCode, body)
	}
	setting, _ := st.GetSetting(context.Background(), store.PlatformTikTok)
	if setting.FrequencyHours != 2.5 {
		t.Errorf("persisted frequency = %v, want 2.5", setting.FrequencyHours)
	}

	// Malformed JSON.
	req, _ := http.NewRequest(http.MethodPut, url, bytes.NewBufferString("{"))
	resp2, _ := http.DefaultClient.Do(req)
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp2.StatusCode)
	}
	resp2.Body.Close()
}

func TestEnableDisable(t *testing.T) {
	ts, st := newTestServer(t)
	seedSetting(t, st, store.PlatformYouTube)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/settings/youtube/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable status = %d", resp.StatusCode)
	}
	setting, _ := st.GetSetting(context.Background(), store.PlatformYouTube)
	if setting.Enabled {
		t.Error("platform still enabled after disable")
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/settings/youtube/enable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable status = %d", resp.StatusCode)
	}
	setting, _ = st.GetSetting(context.Background(), store.PlatformYouTube)
	if !setting.Enabled {
		t.Error("platform still disabled after enable")
	}
}

func TestStats(t *testing.T) {
	ts, st := newTestServer(t)
	st.CreateRunLog(context.Background(), &store.RunLog{
		Platform:  store.PlatformX,
		Status:    store.RunCompleted,
		StartedAt: time.Now().UTC(),
	})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var payload statsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(payload.RecentRuns) != 1 || payload.RecentRuns[0].Platform != store.PlatformX {
		t.Errorf("recent runs = %+v", payload.RecentRuns)
	}
	if payload.QueueDepth != nil {
		t.Errorf("queue depth should be omitted without a queue, got %v", *payload.QueueDepth)
	}
}

func TestListRuns(t *testing.T) {
	ts, st := newTestServer(t)
	for i := 0; i < 3; i++ {
		st.CreateRunLog(context.Background(), &store.RunLog{
			Platform:  store.PlatformTikTok,
			Status:    store.RunCompleted,
			StartedAt: time.Now().UTC(),
		})
	}
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/runs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("runs status = %d", resp.StatusCode)
	}
	var runs []runView
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("runs = %d, want 3", len(runs))
	}
}
