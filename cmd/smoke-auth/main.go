// Command smoke-auth runs an end-to-end check against a live API server:
// login, an authenticated call, refresh rotation, replay rejection and
// idempotent logout.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func main() {
	log.SetFlags(0)
	var (
		baseURL  = flag.String("url", envOr("COREBANK_URL", "http://localhost:8080"), "API base URL")
		username = flag.String("user", envOr("COREBANK_SMOKE_USER", "root"), "login username")
		password = flag.String("password", os.Getenv("COREBANK_SMOKE_PASSWORD"), "login password")
	)
	flag.Parse()

	if *password == "" {
		log.Fatal("missing password: provide via -password or COREBANK_SMOKE_PASSWORD")
	}

	client := &http.Client{Timeout: 10 * time.Second}

	// 1. login
	var pair tokenPair
	status := post(client, *baseURL+"/v1/auth/login", "", map[string]string{
		"username": *username,
		"password": *password,
	}, &pair)
	if status != http.StatusOK {
		log.Fatalf("login: status %d", status)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		log.Fatal("login: missing tokens")
	}

	// 2. authenticated call
	req, _ := http.NewRequest(http.MethodGet, *baseURL+"/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("me: status %d", resp.StatusCode)
	}

	// 3. refresh rotates the session
	var rotated tokenPair
	status = post(client, *baseURL+"/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, &rotated)
	if status != http.StatusOK {
		log.Fatalf("refresh: status %d", status)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		log.Fatal("refresh did not rotate the token")
	}

	// 4. replay of the old refresh token must fail
	status = post(client, *baseURL+"/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	if status != http.StatusUnauthorized {
		log.Fatalf("replay: status %d, want 401", status)
	}

	// 5. logout twice, both succeed
	for i := 0; i < 2; i++ {
		status = post(client, *baseURL+"/v1/auth/logout", "", map[string]string{
			"refresh_token": rotated.RefreshToken,
		}, nil)
		if status != http.StatusNoContent {
			log.Fatalf("logout attempt %d: status %d", i+1, status)
		}
	}

	fmt.Println("✅ auth smoke test passed")
}

func post(client *http.Client, url, token string, body any, out any) int {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("encode %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
