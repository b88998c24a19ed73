package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Runs against a live deployment. RIDELINK_TEST_ID_TOKEN must be a Firebase
// ID token for a rider account.
func TestRideRequestAndCancelAgainstLiveAPI(t *testing.T) {
	t.Logf("[TEST LOG] starting TestRideRequestAndCancelAgainstLiveAPI")
	loadDotEnv(t)

	token := strings.TrimSpace(os.Getenv("RIDELINK_TEST_ID_TOKEN"))
	if token == "" {
		t.Skip("RIDELINK_TEST_ID_TOKEN not set; skipping live API test")
	}
	baseURL := strings.TrimRight(envOrDefault("RIDELINK_API_BASE_URL", "http://localhost:8080"), "/")
	client := &http.Client{Timeout: 30 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	waitForAPIReady(t, client, baseURL)

	route := map[string]any{
		"origin":      map[string]float64{"lat": 12.9716, "lng": 77.5946},
		"destination": map[string]float64{"lat": 12.9352, "lng": 77.6245},
	}
	status, body := callAPI(t, client, token, http.MethodPost, baseURL+"/api/rides/quote", route)
	if status != http.StatusOK {
		t.Fatalf("quote: expected %d, got %d, body=%s", http.StatusOK, status, string(body))
	}
	var quote struct {
		FareAmount float64 `json:"fareAmount"`
		Currency   string  `json:"currency"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		t.Fatalf("quote: unmarshal response: %v, raw=%s", err, string(body))
	}
	if quote.FareAmount <= 0 || quote.Currency == "" {
		t.Fatalf("quote: unexpected fare %+v", quote)
	}

	rideID := fmt.Sprintf("it-%d", time.Now().UnixNano())
	req := map[string]any{
		"rideId":      rideID,
		"riderName":   "Integration Rider",
		"origin":      route["origin"],
		"destination": route["destination"],
	}
	status, body = callAPI(t, client, token, http.MethodPost, baseURL+"/api/rides", req)
	if status != http.StatusCreated {
		t.Fatalf("request: expected %d, got %d, body=%s", http.StatusCreated, status, string(body))
	}

	status, body = callAPI(t, client, token, http.MethodPost, baseURL+"/api/rides/"+rideID+"/cancel",
		map[string]string{"reason": "integration test"})
	if status != http.StatusOK {
		t.Fatalf("cancel: expected %d, got %d, body=%s", http.StatusOK, status, string(body))
	}
	var cancelled struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &cancelled); err != nil {
		t.Fatalf("cancel: unmarshal response: %v, raw=%s", err, string(body))
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("cancel: expected status cancelled, got %q", cancelled.Status)
	}

	dsn := strings.TrimSpace(os.Getenv("RIDELINK_TEST_DSN"))
	if dsn == "" {
		return
	}
	db, usedDSN := mustConnectDB(t, ctx, dsn)
	t.Cleanup(func() { db.Close() })
	t.Logf("using postgres dsn: %s", redactedDSN(usedDSN))

	var transitions int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM ride_events WHERE ride_id = $1", rideID).Scan(&transitions); err != nil {
		t.Fatalf("query ride_events: %v", err)
	}
	if transitions != 2 {
		t.Fatalf("expected 2 recorded transitions (create, cancel), got %d", transitions)
	}
}

func callAPI(t *testing.T, client *http.Client, token, method, url string, payload any) (int, []byte) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("call %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, body
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustConnectDB(t *testing.T, parent context.Context, dsn string) (*pgxpool.Pool, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("%s -> new pool: %v", redactedDSN(dsn), err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		t.Fatalf("%s -> ping: %v", redactedDSN(dsn), err)
	}
	return db, dsn
}

func redactedDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at == -1 || scheme == -1 || at <= scheme+3 {
		return dsn
	}
	return dsn[:scheme+3] + "***:***" + dsn[at:]
}

func waitForAPIReady(t *testing.T, client *http.Client, baseURL string) {
	t.Helper()

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return
				}
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("api not ready: GET %s/health did not return 200 in time", baseURL)
}

func loadDotEnv(t *testing.T) {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		return
	}
	path := ""
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if path == "" {
		return
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		v := strings.TrimSpace(parts[1])
		if k == "" {
			continue
		}
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		_ = os.Setenv(k, v)
	}
}
