//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gemmarket/apiserver/config"
	"github.com/gemmarket/apiserver/internal/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestGemLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()

	sellerToken, err := registerUser(t, baseURL, fmt.Sprintf("seller_%d@example.com", suffix), "seller")
	if err != nil {
		t.Fatalf("register seller: %v", err)
	}

	adminEmail := fmt.Sprintf("admin_%d@example.com", suffix)
	adminToken, err := registerUser(t, baseURL, adminEmail, "buyer")
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if err := promoteUserToAdmin(adminEmail); err != nil {
		t.Fatalf("promote admin: %v", err)
	}

	buyerToken, err := registerUser(t, baseURL, fmt.Sprintf("buyer_%d@example.com", suffix), "buyer")
	if err != nil {
		t.Fatalf("register buyer: %v", err)
	}

	gemID, err := createGem(t, baseURL, sellerToken)
	if err != nil {
		t.Fatalf("create gem: %v", err)
	}

	// A pending gem must not appear in the public list.
	listed, err := listApproved(t, baseURL, "gemType=Sapphire")
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if containsGem(listed, gemID) {
		t.Fatalf("pending gem %d should not be publicly listed", gemID)
	}

	if err := setGemStatus(t, baseURL, adminToken, gemID, "approved", ""); err != nil {
		t.Fatalf("approve gem: %v", err)
	}

	listed, err = listApproved(t, baseURL, "gemType=Sapphire&origin=lanka&minCarat=2.5&maxCarat=2.5")
	if err != nil {
		t.Fatalf("list approved after approval: %v", err)
	}
	if !containsGem(listed, gemID) {
		t.Fatalf("approved gem %d missing from filtered list", gemID)
	}

	if err := watchGem(t, baseURL, buyerToken, gemID, http.StatusOK); err != nil {
		t.Fatalf("watch gem: %v", err)
	}
	if err := watchGem(t, baseURL, buyerToken, gemID, http.StatusBadRequest); err != nil {
		t.Fatalf("duplicate watch should be rejected: %v", err)
	}

	fetched, err := getGem(t, baseURL, gemID)
	if err != nil {
		t.Fatalf("get gem: %v", err)
	}
	if fetched.Views < 1 {
		t.Fatalf("expected view counter to increment, got %d", fetched.Views)
	}
	if len(fetched.Watchers) != 1 {
		t.Fatalf("expected one watcher, got %d", len(fetched.Watchers))
	}

	if err := deleteGem(t, baseURL, sellerToken, gemID); err != nil {
		t.Fatalf("delete gem: %v", err)
	}

	if err := expectGemNotFound(t, baseURL, gemID); err != nil {
		t.Fatalf("expected deleted gem to be missing: %v", err)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Count   *int            `json:"count"`
	Data    json.RawMessage `json:"data"`
}

type gemResponse struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Views    int    `json:"views"`
	Watchers []int  `json:"watchers"`
}

type authResponse struct {
	Token string `json:"token"`
}

func registerUser(t *testing.T, baseURL, email, role string) (string, error) {
	t.Helper()

	payload := map[string]string{
		"name":     "Test User",
		"email":    email,
		"password": "testpass123!",
		"role":     role,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/auth/register", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("register status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	var parsed authResponse
	if err := json.Unmarshal(env.Data, &parsed); err != nil {
		return "", err
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("missing token in register response")
	}
	return parsed.Token, nil
}

func promoteUserToAdmin(email string) error {
	cfg := config.LoadConfig()
	dsn := postgresURL(cfg)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = db.ExecContext(ctx, "UPDATE users SET role = 'admin', updated_at = NOW() WHERE lower(email) = lower($1)", email)
	return err
}

func createGem(t *testing.T, baseURL, token string) (int, error) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	_ = writer.WriteField("title", "Ceylon Blue Sapphire")
	_ = writer.WriteField("description", "A cornflower blue sapphire from Ratnapura.")
	_ = writer.WriteField("gemType", "Sapphire")
	_ = writer.WriteField("carat", "2.5")
	_ = writer.WriteField("cut", "Oval")
	_ = writer.WriteField("color", "Cornflower Blue")
	_ = writer.WriteField("clarity", "VS1")
	_ = writer.WriteField("origin", "Sri Lanka")
	_ = writer.WriteField("listingType", "fixed-price")
	_ = writer.WriteField("price", "4500")

	part, err := writer.CreateFormFile("images", "front.jpg")
	if err != nil {
		return 0, err
	}
	if _, err := part.Write([]byte("fake jpeg bytes")); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/gems/", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("create gem status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, err
	}
	var parsed struct {
		Gem gemResponse `json:"gem"`
	}
	if err := json.Unmarshal(env.Data, &parsed); err != nil {
		return 0, err
	}
	if parsed.Gem.ID == 0 {
		return 0, fmt.Errorf("missing gem id in create response")
	}
	if parsed.Gem.Status != "pending" {
		return 0, fmt.Errorf("expected pending status, got %q", parsed.Gem.Status)
	}
	return parsed.Gem.ID, nil
}

func setGemStatus(t *testing.T, baseURL, token string, id int, status, reason string) error {
	t.Helper()

	payload := map[string]string{"status": status, "rejection_reason": reason}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/gems/%d/status", baseURL, id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("set status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func listApproved(t *testing.T, baseURL, query string) ([]gemResponse, error) {
	t.Helper()

	url := baseURL + "/gems/approved"
	if query != "" {
		url += "?" + query
	}
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list approved status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	var gems []gemResponse
	if err := json.Unmarshal(env.Data, &gems); err != nil {
		return nil, err
	}
	return gems, nil
}

func containsGem(gems []gemResponse, id int) bool {
	for _, gem := range gems {
		if gem.ID == id {
			return true
		}
	}
	return false
}

func watchGem(t *testing.T, baseURL, token string, id, wantStatus int) error {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/gems/%d/watch", baseURL, id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("watch status %d, want %d: %s", resp.StatusCode, wantStatus, strings.TrimSpace(string(msg)))
	}
	return nil
}

func getGem(t *testing.T, baseURL string, id int) (gemResponse, error) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/gems/%d", baseURL, id))
	if err != nil {
		return gemResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return gemResponse{}, fmt.Errorf("get gem status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return gemResponse{}, err
	}
	var gem gemResponse
	if err := json.Unmarshal(env.Data, &gem); err != nil {
		return gemResponse{}, err
	}
	return gem, nil
}

func deleteGem(t *testing.T, baseURL, token string, id int) error {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/gems/%d", baseURL, id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete gem status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func expectGemNotFound(t *testing.T, baseURL string, id int) error {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/gems/%d", baseURL, id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("expected 404 after delete, got %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	dsn := postgresURL(cfg)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	dsn := postgresURL(cfg)
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, dsn)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func postgresURL(cfg config.Config) string {
	sslmode := "disable"
	if cfg.Database.UseSSL {
		sslmode = "require"
	}
	host := fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		host,
		cfg.Database.DBName,
		sslmode,
	)
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "gemmarket")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "gemmarket_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "gem-assets")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
